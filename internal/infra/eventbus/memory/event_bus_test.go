package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pacsight/internal/domain/events"
	"github.com/ahrav/pacsight/internal/domain/imaging"
)

func TestEventBusDeliversToSubscribedTypes(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	var got []events.EventEnvelope
	err := bus.Subscribe(ctx, []events.EventType{events.EventTypeStudyReady}, func(ctx context.Context, evt events.EventEnvelope) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)

	study := imaging.NewStudy("1.2.840.1", "PAT001", imaging.ModalityCT, time.Now())
	ready := imaging.NewStudyReadyEvent(study)
	pub := NewDomainEventPublisher(bus)
	require.NoError(t, pub.PublishDomainEvent(ctx, ready, events.WithKey("1.2.840.1")))

	// Types without a subscription are dropped silently.
	instance := imaging.NewInstance("1.2.840.1.1.1", "1.2.840.1.1", "1.2.840.1", "PAT001", imaging.ModalityCT, "/tmp/i.dcm", 1024, time.Now())
	require.NoError(t, pub.PublishDomainEvent(ctx, imaging.NewInstanceReceivedEvent(instance)))

	require.Len(t, got, 1)
	assert.Equal(t, events.EventTypeStudyReady, got[0].Type)
	assert.Equal(t, "1.2.840.1", got[0].Key)
	assert.Equal(t, ready, got[0].Payload)
}

func TestEventBusStopsAtFirstHandlerError(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	wantErr := errors.New("handler failed")
	var secondCalled bool

	require.NoError(t, bus.Subscribe(ctx, []events.EventType{events.EventTypeStudyReady}, func(ctx context.Context, evt events.EventEnvelope) error {
		return wantErr
	}))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{events.EventTypeStudyReady}, func(ctx context.Context, evt events.EventEnvelope) error {
		secondCalled = true
		return nil
	}))

	err := bus.Publish(ctx, events.EventEnvelope{Type: events.EventTypeStudyReady})
	require.ErrorIs(t, err, wantErr)
	assert.False(t, secondCalled)
}

func TestEventBusClosed(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	require.NoError(t, bus.Close())

	err := bus.Publish(ctx, events.EventEnvelope{Type: events.EventTypeJobEnqueued})
	require.Error(t, err)

	err = bus.Subscribe(ctx, []events.EventType{events.EventTypeJobEnqueued}, func(ctx context.Context, evt events.EventEnvelope) error {
		return nil
	})
	require.Error(t, err)
}
