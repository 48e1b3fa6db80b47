// Package messaging implements the event buses that carry committed
// progression events to read-model handlers. The in-memory bus serves a
// single instance; the Redis bus relays events between API instances.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded pool instead of the publisher's
	// goroutine.
	AsyncMode      bool
	WorkerPoolSize int

	Logger        *slog.Logger
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns the production settings.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// InMemoryEventBus dispatches events to handlers in this process. Handler
// errors and panics are logged and never reach the publisher: a committed
// submission is not undone because a read model failed to update.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	async   bool
	slots   chan struct{}
	closeCh chan struct{}
	pending sync.WaitGroup

	logger  *slog.Logger
	metrics *EventBusMetrics
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		byType:  make(map[shared.EventType][]shared.EventHandler),
		async:   config.AsyncMode,
		slots:   make(chan struct{}, config.WorkerPoolSize),
		closeCh: make(chan struct{}),
		logger:  config.Logger.With("component", "event_bus"),
	}
	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(func() { b.wildcard = append(b.wildcard, handler) }, handler)
}

func (b *InMemoryEventBus) register(add func(), handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish hands the event to every matching handler. Typed handlers run
// before wildcard handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	handlers := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	handlers = append(handlers, typed...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, h := range handlers {
		if b.async {
			b.dispatchAsync(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) dispatchAsync(event shared.Event, handler shared.EventHandler) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		select {
		case b.slots <- struct{}{}:
			defer func() { <-b.slots }()
		case <-b.closeCh:
			return
		}
		b.run(event, handler)
	}()
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := invoke(handler, event)
	took := time.Since(start)

	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), took, err == nil)
	}
	if err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"duration", took.String(),
			"error", err,
		)
	}
}

func invoke(handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(event)
}

// Close rejects further publishes and waits for in-flight handlers. Queued
// async handlers that have not started are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.pending.Wait()
	b.logger.Debug("event bus closed")
	return nil
}

// Metrics returns the collected metrics, or nil when disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}
