package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	redisclient "github.com/vetai/backend/internal/infrastructure/clients/redis"
)

func receive(t *testing.T, ch <-chan *entities.ConsultationEvent) *entities.ConsultationEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed before an event arrived")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan *entities.ConsultationEvent) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel was not closed")
		}
	}
}

func newRedisBus(t *testing.T) providers.EventBus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisEventBus(redisclient.NewClientFromRedis(rdb))
	t.Cleanup(func() {
		bus.Close()
		rdb.Close()
	})
	return bus
}

func TestEventBuses_PublishSubscribe(t *testing.T) {
	buses := map[string]func(t *testing.T) providers.EventBus{
		"redis":  newRedisBus,
		"memory": func(t *testing.T) providers.EventBus { return NewMemoryEventBus() },
	}

	for name, newBus := range buses {
		t.Run(name, func(t *testing.T) {
			bus := newBus(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			channel := providers.GetConsultationChannel("c-1")
			first, err := bus.Subscribe(ctx, channel)
			require.NoError(t, err)
			second, err := bus.Subscribe(ctx, channel)
			require.NoError(t, err)

			event := entities.NewConsultationEvent("c-1", "Max", entities.ConsultationEventStepCompleted).WithStep("summarize", "summary ready")
			require.NoError(t, bus.Publish(context.Background(), channel, event))

			for _, ch := range []<-chan *entities.ConsultationEvent{first, second} {
				got := receive(t, ch)
				assert.Equal(t, event.ID, got.ID)
				assert.Equal(t, "summarize", got.Step)
				assert.Equal(t, entities.ConsultationEventStepCompleted, got.EventType)
			}

			cancel()
			waitClosed(t, first)
			waitClosed(t, second)
		})
	}
}

func TestRedisEventBus_ResubscribeAfterLastSubscriberLeaves(t *testing.T) {
	bus := newRedisBus(t)
	channel := providers.EventChannelConsultationUpdates

	ctx1, cancel1 := context.WithCancel(context.Background())
	first, err := bus.Subscribe(ctx1, channel)
	require.NoError(t, err)
	cancel1()
	waitClosed(t, first)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second, err := bus.Subscribe(ctx2, channel)
	require.NoError(t, err)

	event := entities.NewConsultationEvent("c-2", "Luna", entities.ConsultationEventSaved)
	require.NoError(t, bus.Publish(context.Background(), channel, event))

	assert.Equal(t, event.ID, receive(t, second).ID)
}

func TestMemoryEventBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewMemoryEventBus()
	ch, err := bus.Subscribe(context.Background(), providers.EventChannelConsultationUpdates)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	waitClosed(t, ch)

	late, err := bus.Subscribe(context.Background(), providers.EventChannelConsultationUpdates)
	require.NoError(t, err)
	waitClosed(t, late)
}
