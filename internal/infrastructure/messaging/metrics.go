package messaging

import (
	"sync"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// EventBusMetrics counts publishes and handler runs per event type.
type EventBusMetrics struct {
	mu        sync.Mutex
	published map[shared.EventType]int64
	handled   map[shared.EventType]int64
	failed    int64
	busy      time.Duration
	since     time.Time
}

// NewEventBusMetrics creates an empty tracker.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		published: make(map[shared.EventType]int64),
		handled:   make(map[shared.EventType]int64),
		since:     time.Now(),
	}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	m.published[eventType]++
	m.mu.Unlock()
}

// RecordHandlerExecution counts one handler run.
func (m *EventBusMetrics) RecordHandlerExecution(eventType shared.EventType, took time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled[eventType]++
	m.busy += took
	if !ok {
		m.failed++
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
	PublishedByType        map[shared.EventType]int64
	Since                  time.Time
}

// Snapshot returns the current counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := EventBusMetricsSnapshot{
		HandlerSuccessRate: 1,
		PublishedByType:    make(map[shared.EventType]int64, len(m.published)),
		Since:              m.since,
	}
	for t, n := range m.published {
		snap.TotalPublished += n
		snap.PublishedByType[t] = n
	}
	for _, n := range m.handled {
		snap.TotalHandlerExecs += n
	}
	if snap.TotalHandlerExecs > 0 {
		snap.HandlerSuccessRate = float64(snap.TotalHandlerExecs-m.failed) / float64(snap.TotalHandlerExecs)
		snap.AverageHandlerDuration = m.busy / time.Duration(snap.TotalHandlerExecs)
	}
	return snap
}
