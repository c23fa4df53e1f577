package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Report is the artifact generated from a job's findings. A report is
// generated from exactly one job and never regenerated for that job;
// regeneration requires a new job attempt with a new report.
type Report struct {
	reportID        uuid.UUID
	jobID           uuid.UUID
	format          string
	payloadPath     string
	status          ReportStatus
	archiveResponse string
	sentAt          time.Time
	createdAt       time.Time
}

// NewReport creates a pending Report for a freshly built artifact.
func NewReport(jobID uuid.UUID, format, payloadPath string, now time.Time) *Report {
	return &Report{
		reportID:    uuid.New(),
		jobID:       jobID,
		format:      format,
		payloadPath: payloadPath,
		status:      ReportStatusPending,
		createdAt:   now,
	}
}

// ReconstructReport creates a Report from stored fields. This should only be
// used by repositories when loading from the DB.
func ReconstructReport(
	reportID uuid.UUID,
	jobID uuid.UUID,
	format string,
	payloadPath string,
	status ReportStatus,
	archiveResponse string,
	sentAt time.Time,
	createdAt time.Time,
) *Report {
	return &Report{
		reportID:        reportID,
		jobID:           jobID,
		format:          format,
		payloadPath:     payloadPath,
		status:          status,
		archiveResponse: archiveResponse,
		sentAt:          sentAt,
		createdAt:       createdAt,
	}
}

// ReportID returns the unique identifier of this report.
func (r *Report) ReportID() uuid.UUID { return r.reportID }

// JobID returns the identifier of the job this report was generated from.
func (r *Report) JobID() uuid.UUID { return r.jobID }

// Format returns the negotiated artifact format tag.
func (r *Report) Format() string { return r.format }

// PayloadPath returns the on-disk location of the serialized artifact.
func (r *Report) PayloadPath() string { return r.payloadPath }

// Status returns the report's delivery state.
func (r *Report) Status() ReportStatus { return r.status }

// ArchiveResponse returns the archive's raw response text, recorded verbatim
// for audit regardless of outcome.
func (r *Report) ArchiveResponse() string { return r.archiveResponse }

// SentAt returns when the archive accepted the report, or the zero time.
func (r *Report) SentAt() time.Time { return r.sentAt }

// CreatedAt returns when the artifact was built.
func (r *Report) CreatedAt() time.Time { return r.createdAt }

// MarkSent records a confirmed accept from the archive.
func (r *Report) MarkSent(archiveResponse string, now time.Time) error {
	if err := r.status.ValidateTransition(ReportStatusSent); err != nil {
		return err
	}

	r.status = ReportStatusSent
	r.archiveResponse = archiveResponse
	r.sentAt = now
	return nil
}

// MarkFailed records that delivery was abandoned, keeping the archive's last
// response for audit.
func (r *Report) MarkFailed(archiveResponse string, now time.Time) error {
	if err := r.status.ValidateTransition(ReportStatusFailed); err != nil {
		return err
	}

	r.status = ReportStatusFailed
	r.archiveResponse = archiveResponse
	return nil
}
