package imaging

import (
	"fmt"
	"time"
)

// Study is a clinical examination assembled from individually received
// instances. Completeness is not signalled by the transfer protocol, so the
// study tracks the time of its last instance and is promoted to Ready after a
// configurable quiet period.
type Study struct {
	studyInstanceUID string
	patientID        string
	modality         Modality
	status           StudyStatus
	instanceCount    int
	lastInstanceAt   time.Time
	createdAt        time.Time
	updatedAt        time.Time
}

// NewStudy creates a Study record for the first instance of a new study
// identifier.
func NewStudy(studyInstanceUID, patientID string, modality Modality, now time.Time) *Study {
	return &Study{
		studyInstanceUID: studyInstanceUID,
		patientID:        patientID,
		modality:         modality,
		status:           StudyStatusCollecting,
		lastInstanceAt:   now,
		createdAt:        now,
		updatedAt:        now,
	}
}

// ReconstructStudy creates a Study from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructStudy(
	studyInstanceUID string,
	patientID string,
	modality Modality,
	status StudyStatus,
	instanceCount int,
	lastInstanceAt time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) *Study {
	return &Study{
		studyInstanceUID: studyInstanceUID,
		patientID:        patientID,
		modality:         modality,
		status:           status,
		instanceCount:    instanceCount,
		lastInstanceAt:   lastInstanceAt,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
	}
}

// StudyInstanceUID returns the unique identifier of this study.
func (s *Study) StudyInstanceUID() string { return s.studyInstanceUID }

// PatientID returns the patient reference carried by the study's instances.
func (s *Study) PatientID() string { return s.patientID }

// Modality returns the study's acquisition modality.
func (s *Study) Modality() Modality { return s.modality }

// Status returns the current assembly state of the study.
func (s *Study) Status() StudyStatus { return s.status }

// InstanceCount returns the number of distinct instances recorded so far.
func (s *Study) InstanceCount() int { return s.instanceCount }

// LastInstanceAt returns when the most recent instance was received.
func (s *Study) LastInstanceAt() time.Time { return s.lastInstanceAt }

// CreatedAt returns when the study record was created.
func (s *Study) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the study record was last modified.
func (s *Study) UpdatedAt() time.Time { return s.updatedAt }

// RecordInstance registers the arrival of a new instance: the instance count
// grows, the idle window restarts, and a Closed study reopens for another
// assembly round.
func (s *Study) RecordInstance(now time.Time) error {
	if s.status == StudyStatusClosed {
		if err := s.status.ValidateTransition(StudyStatusCollecting); err != nil {
			return err
		}
		s.status = StudyStatusCollecting
	}

	s.instanceCount++
	s.lastInstanceAt = now
	s.updatedAt = now
	return nil
}

// IdleSince reports whether the study's quiet period has lasted at least the
// given timeout as of now.
func (s *Study) IdleSince(now time.Time, timeout time.Duration) bool {
	return !s.lastInstanceAt.After(now.Add(-timeout))
}

// MarkReady promotes a Collecting study whose idle window elapsed. It returns
// an error if the study is not collecting or instances arrived within the
// timeout.
func (s *Study) MarkReady(now time.Time, timeout time.Duration) error {
	if err := s.status.ValidateTransition(StudyStatusReady); err != nil {
		return err
	}
	if !s.IdleSince(now, timeout) {
		return fmt.Errorf("study %s received an instance within the idle window", s.studyInstanceUID)
	}

	s.status = StudyStatusReady
	s.updatedAt = now
	return nil
}

// Close marks the study Closed after its job reached a terminal state.
func (s *Study) Close(now time.Time) error {
	if err := s.status.ValidateTransition(StudyStatusClosed); err != nil {
		return err
	}

	s.status = StudyStatusClosed
	s.updatedAt = now
	return nil
}
