package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 2)
	bus.Subscribe("test", func(_ context.Context, e Event) error {
		got <- e
		return nil
	}, EventConnectionOpened, EventConnectionClosed)

	assert.Equal(t, 1, bus.HandlerCount(EventConnectionOpened))
	bus.Emit(context.Background(), New(EventConnectionOpened, "listener", ConnectionPayload{ConnID: 7}))

	select {
	case e := <-got:
		assert.Equal(t, EventConnectionOpened, e.Type)
		assert.Equal(t, uint64(7), e.Payload.(ConnectionPayload).ConnID)
		assert.False(t, e.Time.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	bus.Stop()
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe("ok", func(context.Context, Event) error { return nil }, EventShutdown)
	bus.Subscribe("bad", func(context.Context, Event) error { return boom }, EventShutdown)

	err := bus.EmitSync(context.Background(), New(EventShutdown, "test", nil))
	assert.ErrorIs(t, err, boom)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe("panics", func(context.Context, Event) error { panic("x") }, EventPlayerJoined)
	bus.Subscribe("counts", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}, EventPlayerJoined)

	require.NoError(t, bus.EmitSync(context.Background(), New(EventPlayerJoined, "test", nil)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	h := func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}
	bus.Subscribe("a", h, EventPlayerLeft)
	bus.Subscribe("b", h, EventPlayerLeft)
	bus.Unsubscribe(EventPlayerLeft, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventPlayerLeft))

	bus.Stop()
	bus.Emit(context.Background(), New(EventPlayerLeft, "test", nil))
	assert.Zero(t, calls.Load())
}
