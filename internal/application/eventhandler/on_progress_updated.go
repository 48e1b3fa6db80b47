// Package eventhandler contains reactions to committed progression events.
// Handlers keep read models in step with the write side: the cached
// dashboard view and the global distance board.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/pkg/retry"
)

// BoardRecorder receives snapshots for the distance board.
type BoardRecorder interface {
	Record(ctx context.Context, snapshot progression.ProgressUpdated) error
}

// OnProgressUpdatedHandler invalidates the cached view and refreshes the
// board entry of the user whose progress changed.
type OnProgressUpdatedHandler struct {
	cache   query.ProgressCache
	board   BoardRecorder
	retrier *retry.Retrier
	timeout time.Duration
	logger  *slog.Logger
}

// NewOnProgressUpdatedHandler creates a new handler. Either dependency may be
// nil when the deployment runs without Redis.
func NewOnProgressUpdatedHandler(cache query.ProgressCache, board BoardRecorder, logger *slog.Logger) *OnProgressUpdatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressUpdatedHandler{
		cache: cache,
		board: board,
		retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(50*time.Millisecond),
			retry.WithMaxDelay(500*time.Millisecond),
		),
		timeout: 5 * time.Second,
		logger:  logger.With("handler", "on_progress_updated"),
	}
}

// Subscribe registers the handler for both updated and rebuilt progress.
func (h *OnProgressUpdatedHandler) Subscribe(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{shared.EventProgressUpdated, shared.EventProgressRebuilt} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnProgressUpdatedHandler) Handle(event shared.Event) error {
	snapshot, err := snapshotOf(event)
	if err != nil {
		h.logger.Warn("ignoring malformed progress event", "event_type", event.EventType(), "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	if h.cache != nil {
		if err := h.cache.InvalidateProgress(ctx, snapshot.UserID); err != nil {
			errs = append(errs, fmt.Errorf("invalidate view: %w", err))
		}
	}
	if h.board != nil {
		err := h.retrier.Do(ctx, func(ctx context.Context) error {
			return h.board.Record(ctx, snapshot)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("record board entry: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		h.logger.Error("failed to refresh read models", "user_id", snapshot.UserID, "error", err)
		return err
	}

	h.logger.Debug("read models refreshed",
		"user_id", snapshot.UserID,
		"cumulative_km", snapshot.CumulativeKm,
		"rebuilt", snapshot.Rebuilt,
	)
	return nil
}

// snapshotOf accepts the typed event from the local bus and the generic
// payload form relayed by other instances.
func snapshotOf(event shared.Event) (progression.ProgressUpdated, error) {
	if ev, ok := event.(progression.ProgressUpdated); ok {
		return ev, nil
	}

	p := event.Payload()
	userID, _ := p["user_id"].(string)
	if userID == "" {
		return progression.ProgressUpdated{}, errors.New("payload has no user_id")
	}
	km, ok := number(p["cumulative_km"])
	if !ok {
		return progression.ProgressUpdated{}, errors.New("payload has no cumulative_km")
	}
	points, _ := number(p["points"])
	level, _ := number(p["level"])
	rebuilt, _ := p["rebuilt"].(bool)

	return progression.ProgressUpdated{
		BaseEvent:    shared.NewBaseEvent(event.EventType(), userID, event.OccurredAt()),
		UserID:       shared.UserID(userID),
		CumulativeKm: km,
		Points:       int64(points),
		Level:        int(level),
		Rebuilt:      rebuilt,
	}, nil
}

// number reads JSON numbers, which decode as float64.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
