package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobRepository provides persistent storage for analysis jobs. Stage
// transitions are single durable writes so the pipeline is resumable from
// persisted state after a full process restart.
type JobRepository interface {
	// CreateJob persists a new job for a study. The insert is conditional on
	// the study having no non-terminal job; when one exists nothing is written
	// and ErrActiveJobExists is returned.
	CreateJob(ctx context.Context, job *Job) error

	// UpdateJob persists a job's current state, attempt counter, error detail,
	// and lease.
	UpdateJob(ctx context.Context, job *Job) error

	// ClaimQueued atomically transitions a job from Queued to Analyzing and
	// sets the worker lease. It returns false when the job was not in Queued,
	// ensuring no two workers ever act on the same job.
	ClaimQueued(ctx context.Context, job *Job, leaseUntil time.Time) (bool, error)

	// ListQueued returns all jobs waiting in Queued, oldest first. Used on
	// startup to repopulate the in-memory work queue from persisted state.
	ListQueued(ctx context.Context) ([]*Job, error)

	// ReclaimStale finds jobs stuck in an in-flight state whose lease expired
	// at or before now, refreshes their lease, and returns them so a worker
	// can resume at the start of the stuck stage.
	ReclaimStale(ctx context.Context, now time.Time, leaseUntil time.Time) ([]*Job, error)

	// CompleteAnalysis atomically persists the finding batch together with the
	// job's Analyzing to Reporting transition.
	CompleteAnalysis(ctx context.Context, job *Job, findings []Finding) error

	// GetJob retrieves a job by its identifier.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// ListStudyJobs returns all jobs for a study, newest first.
	ListStudyJobs(ctx context.Context, studyUID string) ([]*Job, error)

	// CountJobsByStatus returns the number of jobs in each state.
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error)

	// RecentFailures returns the most recent terminally failed jobs with their
	// recorded error detail.
	RecentFailures(ctx context.Context, limit int) ([]*Job, error)
}

// FindingRepository provides read access to persisted findings. Writes happen
// only through JobRepository.CompleteAnalysis to keep the batch atomic with
// the job transition.
type FindingRepository interface {
	// ListJobFindings returns a job's findings in creation order.
	ListJobFindings(ctx context.Context, jobID uuid.UUID) ([]Finding, error)
}

// ReportRepository provides persistent storage for report artifacts.
type ReportRepository interface {
	// SaveReport atomically persists a freshly built report together with the
	// job's Reporting to Delivering transition.
	SaveReport(ctx context.Context, report *Report, job *Job) error

	// UpdateReportDelivery persists a delivery outcome (Sent or Failed along
	// with the archive's raw response) together with the job's state.
	UpdateReportDelivery(ctx context.Context, report *Report, job *Job) error

	// GetJobReport retrieves the report generated for a job, or
	// ErrReportNotFound.
	GetJobReport(ctx context.Context, jobID uuid.UUID) (*Report, error)
}

// Analyzer scores a study's instances and returns normalized findings.
// Failures carry a StageError classification.
type Analyzer interface {
	AnalyzeStudy(ctx context.Context, job *Job) ([]Finding, error)
}

// ReportBuilder turns a job's findings into a pending report artifact.
// The transformation is deterministic given identical findings and template
// version; failures are terminal.
type ReportBuilder interface {
	BuildReport(ctx context.Context, job *Job, findings []Finding) (*Report, error)
}

// ReportDeliverer transmits a report to the originating archive and returns
// the archive's raw response text. Failures carry a StageError classification;
// the response is recorded for audit regardless of outcome.
type ReportDeliverer interface {
	DeliverReport(ctx context.Context, job *Job, report *Report) (archiveResponse string, err error)
}
