package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Dashboard view: distance, points, level, position on the route and earned
// achievements.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressHandler serves progress views, optionally through a cache.
type GetProgressHandler struct {
	repo   progression.Repository
	cache  ProgressCache
	cfg    progression.EngineConfig
	logger *slog.Logger
}

// NewGetProgressHandler creates a new handler. cache may be nil.
func NewGetProgressHandler(
	repo progression.Repository,
	cache ProgressCache,
	cfg progression.EngineConfig,
	logger *slog.Logger,
) *GetProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetProgressHandler{repo: repo, cache: cache, cfg: cfg, logger: logger}
}

// Handle returns the user's progress view. Users that never submitted an
// entry get ErrProgressNotFound.
func (h *GetProgressHandler) Handle(ctx context.Context, rawUserID string) (*ProgressView, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if view, err := h.cache.GetProgress(ctx, userID); err == nil && view != nil {
			return view, nil
		}
	}

	p, err := h.repo.LoadProgress(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}

	engine, err := catalogEngine(ctx, h.repo, h.cfg)
	if err != nil {
		return nil, err
	}
	view := newProgressView(engine, p)

	if h.cache != nil {
		if err := h.cache.SetProgress(ctx, view); err != nil {
			h.logger.Warn("failed to cache progress view", "user_id", userID, "error", err)
		}
	}
	return view, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET UNLOCKED DESTINATIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// DestinationsResult lists the route split into unlocked and locked parts.
type DestinationsResult struct {
	Unlocked []route.Destination `json:"unlocked"`
	Locked   []route.Destination `json:"locked"`
	Position route.Position      `json:"position"`
}

// GetUnlockedDestinationsHandler lists destinations a user reached.
type GetUnlockedDestinationsHandler struct {
	repo progression.Repository
	cfg  progression.EngineConfig
}

// NewGetUnlockedDestinationsHandler creates a new handler.
func NewGetUnlockedDestinationsHandler(repo progression.Repository, cfg progression.EngineConfig) *GetUnlockedDestinationsHandler {
	return &GetUnlockedDestinationsHandler{repo: repo, cfg: cfg}
}

// Handle returns unlocked destinations in route order. A user without
// progress has nothing unlocked and stands at the start of the route.
func (h *GetUnlockedDestinationsHandler) Handle(ctx context.Context, rawUserID string) (*DestinationsResult, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	engine, err := catalogEngine(ctx, h.repo, h.cfg)
	if err != nil {
		return nil, err
	}

	p, err := h.repo.LoadProgress(ctx, userID)
	switch {
	case shared.IsNotFound(err):
		p = engine.Empty(userID)
	case err != nil:
		return nil, fmt.Errorf("get destinations: %w", err)
	}

	res := &DestinationsResult{
		Unlocked: unlockedDestinations(engine.Route(), p),
		Locked:   make([]route.Destination, 0),
		Position: engine.Tracker().PositionOf(p.CumulativeKm, p.CurrentOrder),
	}
	for _, d := range engine.Route().Destinations() {
		if !p.IsUnlocked(d.Order) {
			res.Locked = append(res.Locked, d)
		}
	}
	return res, nil
}
