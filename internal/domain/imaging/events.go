package imaging

import (
	"time"

	"github.com/ahrav/pacsight/internal/domain/events"
)

// InstanceReceivedEvent signals that a new instance was validated and stored.
// Exactly one event is emitted per newly stored instance; duplicate transfers
// emit nothing.
type InstanceReceivedEvent struct {
	occurredAt time.Time

	SOPInstanceUID   string
	StudyInstanceUID string
	Modality         Modality
}

// NewInstanceReceivedEvent creates an event for a newly stored instance.
func NewInstanceReceivedEvent(instance Instance) InstanceReceivedEvent {
	return InstanceReceivedEvent{
		occurredAt:       time.Now(),
		SOPInstanceUID:   instance.SOPInstanceUID(),
		StudyInstanceUID: instance.StudyInstanceUID(),
		Modality:         instance.Modality(),
	}
}

// EventType returns the type identifier for routing.
func (e InstanceReceivedEvent) EventType() events.EventType { return events.EventTypeInstanceReceived }

// OccurredAt returns when the event was created.
func (e InstanceReceivedEvent) OccurredAt() time.Time { return e.occurredAt }

// StudyReadyEvent signals that a study's idle window elapsed and a job should
// be created for it.
type StudyReadyEvent struct {
	occurredAt time.Time

	StudyInstanceUID string
	Modality         Modality
	InstanceCount    int
}

// NewStudyReadyEvent creates an event for a study promoted to Ready.
func NewStudyReadyEvent(study *Study) StudyReadyEvent {
	return StudyReadyEvent{
		occurredAt:       time.Now(),
		StudyInstanceUID: study.StudyInstanceUID(),
		Modality:         study.Modality(),
		InstanceCount:    study.InstanceCount(),
	}
}

// EventType returns the type identifier for routing.
func (e StudyReadyEvent) EventType() events.EventType { return events.EventTypeStudyReady }

// OccurredAt returns when the event was created.
func (e StudyReadyEvent) OccurredAt() time.Time { return e.occurredAt }
