package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the retry budget shared across a job's retryable stages.
// Exceeding it moves the job to Failed and closes the study.
const MaxAttempts = 5

// Job is one end-to-end analysis attempt for a study. A study has at most one
// non-terminal job at any time; the orchestrator enforces this with an atomic
// conditional insert rather than a process-local lock so the invariant
// survives restarts.
type Job struct {
	jobID    uuid.UUID
	studyUID string
	status   JobStatus
	attempts int
	lastErr  string

	leaseExpiresAt time.Time
	createdAt      time.Time
	updatedAt      time.Time
	completedAt    time.Time
}

// NewJob creates a job for a study that reached Ready.
func NewJob(studyUID string, now time.Time) *Job {
	return &Job{
		jobID:     uuid.New(),
		studyUID:  studyUID,
		status:    JobStatusReceived,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructJob creates a Job from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructJob(
	jobID uuid.UUID,
	studyUID string,
	status JobStatus,
	attempts int,
	lastErr string,
	leaseExpiresAt time.Time,
	createdAt time.Time,
	updatedAt time.Time,
	completedAt time.Time,
) *Job {
	return &Job{
		jobID:          jobID,
		studyUID:       studyUID,
		status:         status,
		attempts:       attempts,
		lastErr:        lastErr,
		leaseExpiresAt: leaseExpiresAt,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
		completedAt:    completedAt,
	}
}

// JobID returns the unique identifier for this job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// StudyUID returns the identifier of the study this job analyzes.
func (j *Job) StudyUID() string { return j.studyUID }

// Status returns the current pipeline state of the job.
func (j *Job) Status() JobStatus { return j.status }

// Attempts returns the number of retryable-stage attempts consumed so far.
func (j *Job) Attempts() int { return j.attempts }

// LastError returns the most recent recorded failure detail.
func (j *Job) LastError() string { return j.lastErr }

// LeaseExpiresAt returns when the current worker's claim on the job lapses.
// A job stuck in flight past this point is reclaimed by recovery.
func (j *Job) LeaseExpiresAt() time.Time { return j.leaseExpiresAt }

// CreatedAt returns when the job row was created.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// UpdatedAt returns when the job's state was last modified.
func (j *Job) UpdatedAt() time.Time { return j.updatedAt }

// CompletedAt returns when the job reached a terminal state, or the zero time
// if it has not.
func (j *Job) CompletedAt() (time.Time, bool) {
	if j.status.IsTerminal() {
		return j.completedAt, true
	}
	return time.Time{}, false
}

// UpdateStatus changes the job's status after validating the transition.
func (j *Job) UpdateStatus(newStatus JobStatus, now time.Time) error {
	if err := j.status.ValidateTransition(newStatus); err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		j.completedAt = now
		j.leaseExpiresAt = time.Time{}
	}

	j.status = newStatus
	j.updatedAt = now
	return nil
}

// Claim marks the job as held by a worker until the lease expires. Claiming is
// only meaningful for in-flight stages.
func (j *Job) Claim(leaseUntil time.Time) {
	j.leaseExpiresAt = leaseUntil
}

// Release clears the lease. Queued jobs carry none; they are picked up by the
// next claim, not by the stale-lease sweep.
func (j *Job) Release() {
	j.leaseExpiresAt = time.Time{}
}

// RecordFailure consumes one attempt from the retry budget and records the
// failure detail. It returns true while budget remains; once the budget is
// exhausted the caller must fail the job.
func (j *Job) RecordFailure(detail string, now time.Time) (retryable bool) {
	j.attempts++
	j.lastErr = detail
	j.updatedAt = now
	return j.attempts < MaxAttempts
}

// Fail moves the job to its terminal failure state with the given detail.
func (j *Job) Fail(detail string, now time.Time) error {
	if err := j.UpdateStatus(JobStatusFailed, now); err != nil {
		return fmt.Errorf("failing job %s: %w", j.jobID, err)
	}
	j.lastErr = detail
	return nil
}
