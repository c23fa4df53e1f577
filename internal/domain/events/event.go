package events

import "time"

// DomainEvent encapsulates all event data flowing through the system, providing
// a standardized format for event processing and distribution.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when this event was created, enabling temporal tracking
	// and debugging of event flows.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with the routing metadata the event bus
// needs to deliver it.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a StudyInstanceUID that events can be grouped by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this envelope was created.
	Timestamp time.Time

	// Payload contains the actual domain event.
	Payload any
}
