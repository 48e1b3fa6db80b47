package messaging

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

func progressEvent(user shared.UserID, km float64) progression.ProgressUpdated {
	p := progression.NewUserProgress(user, progression.StartLevel)
	p.CumulativeKm = km
	return progression.NewProgressUpdated(p, false, time.Date(2025, 4, 7, 6, 0, 0, 0, time.UTC))
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventProgressUpdated, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(progressEvent("u1", 5)))
	require.NoError(t, bus.Publish(progression.NewLevelUp("u1", progression.LevelChange{From: 1, To: 2}, time.Now())))

	assert.Equal(t, []shared.EventType{shared.EventProgressUpdated}, typed)
	assert.Equal(t, []shared.EventType{shared.EventProgressUpdated, shared.EventLevelUp}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var after bool
	require.NoError(t, bus.Subscribe(shared.EventProgressUpdated, func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe(shared.EventProgressUpdated, func(shared.Event) error {
		after = true
		return nil
	}))

	require.NoError(t, bus.Publish(progressEvent("u1", 5)))
	assert.True(t, after)
	assert.InDelta(t, 0.5, bus.Metrics().Snapshot().HandlerSuccessRate, 1e-9)
}

func TestInMemoryEventBus_AsyncCloseWaitsForHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled int32
	require.NoError(t, bus.Subscribe(shared.EventProgressUpdated, func(shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&handled, 1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(progressEvent("u1", float64(i+1))))
	}
	require.NoError(t, bus.Close())

	assert.LessOrEqual(t, atomic.LoadInt32(&handled), int32(5))
	assert.ErrorIs(t, bus.Publish(progressEvent("u1", 1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestRedisEventBus_RelaysBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	newBus := func() *RedisEventBus {
		bus, err := NewRedisEventBus(RedisEventBusConfig{Client: NewGoRedisClient(client)})
		require.NoError(t, err)
		t.Cleanup(func() { bus.Close() })
		return bus
	}
	a, b := newBus(), newBus()

	var mu sync.Mutex
	var onA, onB []shared.Event
	require.NoError(t, a.Subscribe(shared.EventProgressUpdated, func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		onA = append(onA, e)
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventProgressUpdated, func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		onB = append(onB, e)
		return nil
	}))

	require.NoError(t, a.Publish(progressEvent("u1", 30)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(onB) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, onA, 1, "own events are handled locally only")
	_, typed := onA[0].(progression.ProgressUpdated)
	assert.True(t, typed)

	remote := onB[0]
	assert.Equal(t, "u1", remote.AggregateID())
	assert.Equal(t, "u1", remote.Payload()["user_id"])
	assert.InDelta(t, 30, remote.Payload()["cumulative_km"].(float64), 1e-9)
}
