package events

// EventType represents a domain event category, enabling type-safe event
// routing and handling. It allows the system to distinguish between different
// kinds of events like instance receipt, study readiness, and job lifecycle
// transitions.
type EventType string

// Domain event type constants.
// These describe "something happened" in the study-processing pipeline.
const (
	EventTypeInstanceReceived EventType = "InstanceReceived"
	EventTypeStudyReady       EventType = "StudyReady"
	EventTypeJobEnqueued      EventType = "JobEnqueued"
	EventTypeJobCompleted     EventType = "JobCompleted"
	EventTypeJobFailed        EventType = "JobFailed"
)

// PublishOption is a function type that modifies PublishParams.
// It enables flexible configuration of event publishing behavior through
// functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a routing key to control event ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the routing key for an event.
// The key helps ensure related events are processed in order by the same
// consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an
// event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
