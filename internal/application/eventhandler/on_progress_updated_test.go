package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

type fakeCache struct {
	mu          sync.Mutex
	invalidated []shared.UserID
}

func (c *fakeCache) GetProgress(context.Context, shared.UserID) (*query.ProgressView, error) {
	return nil, errors.New("miss")
}

func (c *fakeCache) SetProgress(context.Context, *query.ProgressView) error { return nil }

func (c *fakeCache) InvalidateProgress(_ context.Context, userID shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fakeBoard struct {
	failures int
	calls    int
	recorded []progression.ProgressUpdated
}

func (b *fakeBoard) Record(_ context.Context, s progression.ProgressUpdated) error {
	b.calls++
	if b.calls <= b.failures {
		return errors.New("redis down")
	}
	b.recorded = append(b.recorded, s)
	return nil
}

type payloadEvent struct {
	shared.BaseEvent
	payload map[string]interface{}
}

func (e payloadEvent) Payload() map[string]interface{} { return e.payload }

var at = time.Date(2025, 4, 7, 6, 0, 0, 0, time.UTC)

func snapshot() progression.ProgressUpdated {
	p := progression.NewUserProgress("u1", progression.StartLevel)
	p.CumulativeKm = 30
	p.Points = 400
	p.Level = 2
	return progression.NewProgressUpdated(p, false, at)
}

func TestOnProgressUpdated_TypedEvent(t *testing.T) {
	cache, board := &fakeCache{}, &fakeBoard{}
	h := NewOnProgressUpdatedHandler(cache, board, nil)

	require.NoError(t, h.Handle(snapshot()))

	assert.Equal(t, []shared.UserID{"u1"}, cache.invalidated)
	require.Len(t, board.recorded, 1)
	assert.Equal(t, int64(400), board.recorded[0].Points)
}

func TestOnProgressUpdated_PayloadFromOtherInstance(t *testing.T) {
	cache, board := &fakeCache{}, &fakeBoard{}
	h := NewOnProgressUpdatedHandler(cache, board, nil)

	ev := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressRebuilt, "u2", at),
		payload: map[string]interface{}{
			"user_id":       "u2",
			"cumulative_km": 12.5,
			"points":        float64(125),
			"level":         float64(2),
			"rebuilt":       true,
		},
	}
	require.NoError(t, h.Handle(ev))

	require.Len(t, board.recorded, 1)
	got := board.recorded[0]
	assert.Equal(t, shared.UserID("u2"), got.UserID)
	assert.InDelta(t, 12.5, got.CumulativeKm, 1e-9)
	assert.Equal(t, int64(125), got.Points)
	assert.Equal(t, 2, got.Level)
	assert.True(t, got.Rebuilt)
}

func TestOnProgressUpdated_MalformedPayloadIsIgnored(t *testing.T) {
	cache, board := &fakeCache{}, &fakeBoard{}
	h := NewOnProgressUpdatedHandler(cache, board, nil)

	ev := payloadEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressUpdated, "", at),
		payload:   map[string]interface{}{"points": 1},
	}
	require.NoError(t, h.Handle(ev))
	assert.Empty(t, cache.invalidated)
	assert.Zero(t, board.calls)
}

func TestOnProgressUpdated_RetriesBoard(t *testing.T) {
	board := &fakeBoard{failures: 2}
	h := NewOnProgressUpdatedHandler(nil, board, nil)

	require.NoError(t, h.Handle(snapshot()))
	assert.Equal(t, 3, board.calls)
	assert.Len(t, board.recorded, 1)
}

func TestOnProgressUpdated_ReportsPersistentFailure(t *testing.T) {
	board := &fakeBoard{failures: 10}
	h := NewOnProgressUpdatedHandler(&fakeCache{}, board, nil)

	err := h.Handle(snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record board entry")
}

type subscriber struct{ types []shared.EventType }

func (s *subscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return nil
}

func (s *subscriber) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnProgressUpdated_Subscribe(t *testing.T) {
	s := &subscriber{}
	require.NoError(t, NewOnProgressUpdatedHandler(nil, nil, nil).Subscribe(s))
	assert.Equal(t, []shared.EventType{shared.EventProgressUpdated, shared.EventProgressRebuilt}, s.types)
}
