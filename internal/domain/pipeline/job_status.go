package pipeline

import "fmt"

// JobStatus represents the current state of an analysis job. It enables
// tracking of the job lifecycle from creation through report delivery or
// terminal failure.
type JobStatus string

const (
	// JobStatusReceived indicates the job row exists but has not been admitted
	// to the work queue.
	JobStatusReceived JobStatus = "RECEIVED"

	// JobStatusQueued indicates the job is waiting for a worker slot.
	JobStatusQueued JobStatus = "QUEUED"

	// JobStatusAnalyzing indicates the analysis engine is scoring the study.
	JobStatusAnalyzing JobStatus = "ANALYZING"

	// JobStatusReporting indicates the report artifact is being built.
	JobStatusReporting JobStatus = "REPORTING"

	// JobStatusDelivering indicates the report is being transmitted to the
	// archive.
	JobStatusDelivering JobStatus = "DELIVERING"

	// JobStatusDone indicates the archive confirmed receipt of the report.
	JobStatusDone JobStatus = "DONE"

	// JobStatusFailed indicates the job encountered a terminal error or
	// exhausted its retry budget.
	JobStatusFailed JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool { return s == JobStatusDone || s == JobStatusFailed }

// IsInFlight reports whether a worker holds the job and a stale lease can be
// reclaimed.
func (s JobStatus) IsInFlight() bool {
	return s == JobStatusAnalyzing || s == JobStatusReporting || s == JobStatusDelivering
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "RECEIVED":
		return JobStatusReceived
	case "QUEUED":
		return JobStatusQueued
	case "ANALYZING":
		return JobStatusAnalyzing
	case "REPORTING":
		return JobStatusReporting
	case "DELIVERING":
		return JobStatusDelivering
	case "DONE":
		return JobStatusDone
	case "FAILED":
		return JobStatusFailed
	default:
		return "" // represents unspecified
	}
}

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s JobStatus) ValidateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the pipeline lifecycle rules to prevent invalid
// state changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusReceived:
		// A job is admitted to the queue immediately after creation.
		return target == JobStatusQueued
	case JobStatusQueued:
		// A worker claims the job when a slot frees up.
		return target == JobStatusAnalyzing
	case JobStatusAnalyzing:
		// Scoring either succeeds, retries through the queue, or fails
		// terminally.
		return target == JobStatusReporting || target == JobStatusQueued || target == JobStatusFailed
	case JobStatusReporting:
		// Report building is never retried: it succeeds or fails.
		return target == JobStatusDelivering || target == JobStatusFailed
	case JobStatusDelivering:
		// Delivery retries stay in Delivering; the transition is recorded for
		// the attempt counter and lease refresh.
		return target == JobStatusDelivering || target == JobStatusDone || target == JobStatusFailed
	case JobStatusDone, JobStatusFailed:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
