package events

import "context"

// HandlerFunc processes a single event envelope delivered by the event bus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error
