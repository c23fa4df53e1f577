package imaging

import "time"

// Instance is one received image object. Instances are immutable once stored:
// they belong to exactly one series and one study, fixed at creation.
type Instance struct {
	sopInstanceUID    string
	seriesInstanceUID string
	studyInstanceUID  string
	patientID         string
	modality          Modality
	payloadPath       string
	sizeBytes         int64
	receivedAt        time.Time
}

// NewInstance creates an Instance for a freshly received image object.
func NewInstance(
	sopInstanceUID string,
	seriesInstanceUID string,
	studyInstanceUID string,
	patientID string,
	modality Modality,
	payloadPath string,
	sizeBytes int64,
	receivedAt time.Time,
) Instance {
	return Instance{
		sopInstanceUID:    sopInstanceUID,
		seriesInstanceUID: seriesInstanceUID,
		studyInstanceUID:  studyInstanceUID,
		patientID:         patientID,
		modality:          modality,
		payloadPath:       payloadPath,
		sizeBytes:         sizeBytes,
		receivedAt:        receivedAt,
	}
}

// ReconstructInstance creates an Instance from stored fields. This should only
// be used by repositories when loading from the DB.
func ReconstructInstance(
	sopInstanceUID string,
	seriesInstanceUID string,
	studyInstanceUID string,
	patientID string,
	modality Modality,
	payloadPath string,
	sizeBytes int64,
	receivedAt time.Time,
) Instance {
	return NewInstance(sopInstanceUID, seriesInstanceUID, studyInstanceUID, patientID, modality, payloadPath, sizeBytes, receivedAt)
}

// SOPInstanceUID returns the unique identifier for this image object.
func (i Instance) SOPInstanceUID() string { return i.sopInstanceUID }

// SeriesInstanceUID returns the identifier of the owning series.
func (i Instance) SeriesInstanceUID() string { return i.seriesInstanceUID }

// StudyInstanceUID returns the identifier of the owning study.
func (i Instance) StudyInstanceUID() string { return i.studyInstanceUID }

// PatientID returns the patient reference carried in the image dataset.
func (i Instance) PatientID() string { return i.patientID }

// Modality returns the acquisition modality of the image.
func (i Instance) Modality() Modality { return i.modality }

// PayloadPath returns the on-disk location of the raw image payload.
func (i Instance) PayloadPath() string { return i.payloadPath }

// SizeBytes returns the size of the stored payload.
func (i Instance) SizeBytes() int64 { return i.sizeBytes }

// ReceivedAt returns when the instance was received.
func (i Instance) ReceivedAt() time.Time { return i.receivedAt }
