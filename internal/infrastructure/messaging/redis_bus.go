package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// DefaultChannel is the Redis channel events are relayed on.
const DefaultChannel = "followme:events"

// RedisClient is the pub/sub surface the Redis bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from a subscription.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client      RedisClient
	ChannelName string

	// InstanceID tags outgoing envelopes so an instance can skip its own
	// events when they come back from Redis.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event to local handlers and relays it over
// Redis pub/sub to the other API instances. Remote events arrive as
// envelopes and keep only their type, aggregate, time and payload.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRedisEventBus subscribes to the channel and returns the bus.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.ChannelName,
		instanceID: config.InstanceID,
		logger:     config.Logger.With("component", "redis_event_bus", "channel", config.ChannelName),
		ctx:        ctx,
		cancel:     cancel,
	}

	messages, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.wg.Add(1)
	go b.listen(messages)

	return b, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish relays the event and then handles it locally. A relay failure is
// logged; local handlers still run.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(envelope{
		InstanceID: b.instanceID,
		Type:       event.EventType(),
		Aggregate:  event.AggregateID(),
		At:         event.OccurredAt(),
		Data:       event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("relay failed", "event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("subscription error", "error", msg.Err)
				continue
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *RedisEventBus) deliver(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn("dropping malformed envelope", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if err := b.local.Publish(env); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.logger.Error("remote event not delivered", "event_type", env.Type, "error", err)
	}
}

// Close stops the subscription and drains local handlers.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.local.Close()
}

// Metrics returns the local bus metrics.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.local.Metrics()
}

// envelope is the wire form of an event. It also serves as the shared.Event
// handed to local handlers for events from other instances.
type envelope struct {
	InstanceID string                 `json:"instance_id"`
	Type       shared.EventType       `json:"event_type"`
	Aggregate  string                 `json:"aggregate_id"`
	At         time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"payload"`
}

func (e envelope) EventType() shared.EventType { return e.Type }
func (e envelope) AggregateID() string { return e.Aggregate }
func (e envelope) OccurredAt() time.Time { return e.At }
func (e envelope) Payload() map[string]interface{} { return e.Data }
