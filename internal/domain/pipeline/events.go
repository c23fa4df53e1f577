package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/pacsight/internal/domain/events"
)

// JobEnqueuedEvent signals that a job was created for a ready study and
// admitted to the work queue.
type JobEnqueuedEvent struct {
	occurredAt time.Time

	JobID    uuid.UUID
	StudyUID string
}

// NewJobEnqueuedEvent creates an event for a newly queued job.
func NewJobEnqueuedEvent(job *Job) JobEnqueuedEvent {
	return JobEnqueuedEvent{
		occurredAt: time.Now(),
		JobID:      job.JobID(),
		StudyUID:   job.StudyUID(),
	}
}

// EventType returns the type identifier for routing.
func (e JobEnqueuedEvent) EventType() events.EventType { return events.EventTypeJobEnqueued }

// OccurredAt returns when the event was created.
func (e JobEnqueuedEvent) OccurredAt() time.Time { return e.occurredAt }

// JobCompletedEvent signals that a job's report was accepted by the archive.
type JobCompletedEvent struct {
	occurredAt time.Time

	JobID        uuid.UUID
	StudyUID     string
	FindingCount int
}

// NewJobCompletedEvent creates an event for a job that reached Done.
func NewJobCompletedEvent(job *Job, findingCount int) JobCompletedEvent {
	return JobCompletedEvent{
		occurredAt:   time.Now(),
		JobID:        job.JobID(),
		StudyUID:     job.StudyUID(),
		FindingCount: findingCount,
	}
}

// EventType returns the type identifier for routing.
func (e JobCompletedEvent) EventType() events.EventType { return events.EventTypeJobCompleted }

// OccurredAt returns when the event was created.
func (e JobCompletedEvent) OccurredAt() time.Time { return e.occurredAt }

// JobFailedEvent signals that a job reached its terminal failure state.
type JobFailedEvent struct {
	occurredAt time.Time

	JobID    uuid.UUID
	StudyUID string
	Reason   string
}

// NewJobFailedEvent creates an event for a job that reached Failed.
func NewJobFailedEvent(job *Job) JobFailedEvent {
	return JobFailedEvent{
		occurredAt: time.Now(),
		JobID:      job.JobID(),
		StudyUID:   job.StudyUID(),
		Reason:     job.LastError(),
	}
}

// EventType returns the type identifier for routing.
func (e JobFailedEvent) EventType() events.EventType { return events.EventTypeJobFailed }

// OccurredAt returns when the event was created.
func (e JobFailedEvent) OccurredAt() time.Time { return e.occurredAt }
