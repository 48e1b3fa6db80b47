// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
	"github.com/followme/followme-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION COORDINATOR
// The only writer of UserProgress. Every mutation runs under the user's lock
// and inside one storage transaction: it either commits completely or leaves
// nothing behind.
// ══════════════════════════════════════════════════════════════════════════════

// CoordinatorConfig contains configuration for the coordinator.
type CoordinatorConfig struct {
	// Engine holds weights, scoring and level curve.
	Engine progression.EngineConfig

	// Logger for structured logging.
	Logger *slog.Logger

	// Clock returns the current time.
	Clock func() time.Time

	// NewID generates training entry IDs.
	NewID func() string

	// ConflictRetries is how many times a transaction that lost an
	// optimistic-lock race is retried.
	ConflictRetries int

	// Invalidator drops cached views right after a commit, before events
	// go out. Optional.
	Invalidator ProgressInvalidator

	// InvalidateTimeout bounds a single invalidation.
	InvalidateTimeout time.Duration
}

// ProgressInvalidator evicts a user's cached read models once a write has
// committed at version.
type ProgressInvalidator interface {
	InvalidateProgressAt(ctx context.Context, userID shared.UserID, version int64) error
}

// DefaultCoordinatorConfig returns default configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Engine:            progression.DefaultEngineConfig(),
		Clock:             func() time.Time { return time.Now().UTC() },
		NewID:             uuid.NewString,
		ConflictRetries:   4,
		InvalidateTimeout: 2 * time.Second,
	}
}

// ProgressionCoordinator orchestrates the progression pipeline.
type ProgressionCoordinator struct {
	uow       progression.UnitOfWork
	locker    Locker
	publisher shared.EventPublisher
	cfg       CoordinatorConfig
	logger    *slog.Logger
	retrier   *retry.Retrier
}

// NewProgressionCoordinator creates a new ProgressionCoordinator.
func NewProgressionCoordinator(
	uow progression.UnitOfWork,
	locker Locker,
	publisher shared.EventPublisher,
	cfg CoordinatorConfig,
) *ProgressionCoordinator {
	def := DefaultCoordinatorConfig()
	if cfg.Engine.Weights == nil {
		cfg.Engine = def.Engine
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = def.ConflictRetries
	}
	if cfg.InvalidateTimeout <= 0 {
		cfg.InvalidateTimeout = def.InvalidateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if locker == nil {
		locker = NewKeyedLocker()
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &ProgressionCoordinator{
		uow:       uow,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "progression_coordinator"),
		retrier:   retry.ConflictRetrier(cfg.ConflictRetries, shared.IsRetryable),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEntryCommand contains a new training session.
type SubmitEntryCommand struct {
	// UserID is the owner of the entry.
	UserID string

	// DistanceKm is the raw distance, must be > 0.
	DistanceKm float64

	// ActivityType is one of run, bike, walk, ski, other.
	ActivityType string

	// Timestamp is when the session happened (defaults to now).
	Timestamp time.Time

	// Note is an optional free-text comment.
	Note string

	// EntryID lets clients make retries idempotent (generated if empty).
	EntryID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Draft converts the command into a validated training draft.
func (c SubmitEntryCommand) Draft() (training.Draft, error) {
	userID, err := shared.NewUserID(c.UserID)
	if err != nil {
		return training.Draft{}, err
	}
	activity, err := training.ParseActivityType(c.ActivityType)
	if err != nil {
		return training.Draft{}, err
	}
	d := training.Draft{
		ID:         training.EntryID(c.EntryID),
		UserID:     userID,
		Timestamp:  c.Timestamp,
		DistanceKm: c.DistanceKm,
		Activity:   activity,
		Note:       c.Note,
	}
	if err := d.Validate(); err != nil {
		return training.Draft{}, err
	}
	return d, nil
}

// SubmitResult contains the result of a submission.
type SubmitResult struct {
	// Entry is the stored training entry.
	Entry *training.TrainingEntry

	// Progress is the committed progress.
	Progress *progression.UserProgress

	// Events are ordered: unlocks, level-up, achievements.
	Events []progression.ProgressionEvent

	// Recovered is set when stored progress was inconsistent and was rebuilt
	// from the session log before applying the entry.
	Recovered bool
}

// Submit appends an entry and advances the user's progression.
func (c *ProgressionCoordinator) Submit(ctx context.Context, cmd SubmitEntryCommand) (*SubmitResult, error) {
	draft, err := cmd.Draft()
	if err != nil {
		return nil, err
	}
	now := c.cfg.Clock()
	// Identity is fixed before the first attempt so retries append the same entry.
	if !draft.ID.IsValid() {
		draft.ID = training.EntryID(c.cfg.NewID())
	}
	if draft.Timestamp.IsZero() {
		draft.Timestamp = now
	}

	unlock, err := c.locker.Lock(ctx, draft.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("submit: acquire user lock: %w", err)
	}
	defer unlock()

	var result *SubmitResult
	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		result = nil
		return c.uow.WithinTx(ctx, func(ctx context.Context, tx progression.Store) error {
			res, err := c.submitTx(ctx, tx, draft, now)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("training entry submitted",
		"user_id", draft.UserID,
		"entry_id", result.Entry.ID,
		"distance_km", result.Entry.DistanceKm,
		"activity", result.Entry.Activity,
		"events", len(result.Events),
		"correlation_id", cmd.CorrelationID,
	)

	c.invalidate(ctx, result.Progress)
	for _, ev := range result.Events {
		c.publish(ev)
	}
	c.publish(progression.NewProgressUpdated(result.Progress, result.Recovered, now))

	return result, nil
}

func (c *ProgressionCoordinator) submitTx(ctx context.Context, tx progression.Store, draft training.Draft, now time.Time) (*SubmitResult, error) {
	engine, err := c.engine(ctx, tx)
	if err != nil {
		return nil, err
	}

	log := training.NewSessionLog(tx, c.cfg.NewID, training.WithClock(func() time.Time { return now }))
	history, err := log.ListForUser(ctx, draft.UserID)
	if err != nil {
		return nil, fmt.Errorf("submit: load session log: %w", err)
	}

	prev, recovered, err := c.loadOrRebuild(ctx, tx, engine, draft.UserID, history, now)
	if err != nil {
		return nil, err
	}

	entry, err := log.Append(ctx, draft)
	if err != nil {
		return nil, err
	}
	history = append(history, *entry)
	training.SortEntries(history)

	out := engine.Apply(prev, *entry, history, now)
	out.Progress.UpdatedAt = now
	if err := tx.SaveProgress(ctx, out.Progress); err != nil {
		return nil, err
	}

	return &SubmitResult{
		Entry:     entry,
		Progress:  out.Progress,
		Events:    out.Events,
		Recovered: recovered,
	}, nil
}

// loadOrRebuild returns the stored progress when it is consistent with the
// catalog and the log. A missing record starts from the log, and an
// inconsistent one is logged and replaced by a replay.
func (c *ProgressionCoordinator) loadOrRebuild(
	ctx context.Context,
	tx progression.Store,
	engine *progression.Engine,
	userID shared.UserID,
	history []training.TrainingEntry,
	now time.Time,
) (*progression.UserProgress, bool, error) {
	prev, err := tx.LoadProgress(ctx, userID)
	if shared.IsNotFound(err) {
		if len(history) > 0 {
			c.logger.Warn("session log without progress record, rebuilding",
				"user_id", userID, "entries", len(history))
			return engine.Replay(userID, history, now), true, nil
		}
		return engine.Empty(userID), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load progress: %w", err)
	}

	if err := c.verify(engine, prev, history); err != nil {
		c.logger.Warn("inconsistent progress, rebuilding from session log",
			"user_id", userID, "error", err)
		rebuilt := engine.Replay(userID, history, now)
		rebuilt.Version = prev.Version
		return rebuilt, true, nil
	}
	return prev, false, nil
}

// verify checks stored progress against the catalog and the session log.
func (c *ProgressionCoordinator) verify(engine *progression.Engine, p *progression.UserProgress, history []training.TrainingEntry) error {
	if err := p.CheckConsistency(engine.Route(), engine.Curve()); err != nil {
		return err
	}
	if p.EntryCount != len(history) {
		return shared.InconsistencyError("progression", "Verify",
			"user %s progress counts %d entries, log has %d", p.UserID, p.EntryCount, len(history))
	}
	if want := engine.Aggregator().ComputeCumulative(history); math.Abs(want-p.CumulativeKm) > 1e-6 {
		return shared.InconsistencyError("progression", "Verify",
			"user %s cumulative distance %.3f, log sums to %.3f", p.UserID, p.CumulativeKm, want)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE / DELETE
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeResult contains the outcome of a full replay.
type RecomputeResult struct {
	// Previous is the progress before the replay (nil if none existed).
	Previous *progression.UserProgress

	// Progress is the rebuilt, committed progress.
	Progress *progression.UserProgress

	// Changed reports whether the replay altered the stored state.
	Changed bool
}

// Recompute discards cached progress and replays the full session log from
// empty state. Fails with NotFoundError when the user has no progress.
func (c *ProgressionCoordinator) Recompute(ctx context.Context, rawUserID string) (*RecomputeResult, error) {
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return nil, err
	}
	return c.rebuild(ctx, userID, "recompute", func(ctx context.Context, tx progression.Store) (*progression.UserProgress, error) {
		prev, err := tx.LoadProgress(ctx, userID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil, shared.ErrProgressNotFound
			}
			return nil, fmt.Errorf("recompute: load progress: %w", err)
		}
		return prev, nil
	})
}

// DeleteEntryCommand removes one entry of a user.
type DeleteEntryCommand struct {
	UserID  string
	EntryID string
}

// DeleteEntry removes an entry and recomputes the owner's progression in the
// same transaction.
func (c *ProgressionCoordinator) DeleteEntry(ctx context.Context, cmd DeleteEntryCommand) (*RecomputeResult, error) {
	userID, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}
	entryID := training.EntryID(cmd.EntryID)
	if !entryID.IsValid() {
		return nil, shared.ValidationError("training", "Delete", "entry ID is required")
	}

	return c.rebuild(ctx, userID, "delete_entry", func(ctx context.Context, tx progression.Store) (*progression.UserProgress, error) {
		log := training.NewSessionLog(tx, c.cfg.NewID)
		if _, err := log.Delete(ctx, userID, entryID); err != nil {
			return nil, err
		}
		prev, err := tx.LoadProgress(ctx, userID)
		if shared.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("delete entry: load progress: %w", err)
		}
		return prev, nil
	})
}

// rebuild runs prepare and a full replay inside one locked transaction.
// prepare returns the progress being replaced, or nil if none exists.
func (c *ProgressionCoordinator) rebuild(
	ctx context.Context,
	userID shared.UserID,
	op string,
	prepare func(ctx context.Context, tx progression.Store) (*progression.UserProgress, error),
) (*RecomputeResult, error) {
	unlock, err := c.locker.Lock(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("%s: acquire user lock: %w", op, err)
	}
	defer unlock()

	now := c.cfg.Clock()
	var result *RecomputeResult
	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		result = nil
		return c.uow.WithinTx(ctx, func(ctx context.Context, tx progression.Store) error {
			prev, err := prepare(ctx, tx)
			if err != nil {
				return err
			}
			engine, err := c.engine(ctx, tx)
			if err != nil {
				return err
			}
			entries, err := tx.LoadEntries(ctx, userID)
			if err != nil {
				return fmt.Errorf("%s: load entries: %w", op, err)
			}

			rebuilt := engine.Replay(userID, entries, now)
			rebuilt.UpdatedAt = now
			if prev != nil {
				rebuilt.Version = prev.Version
			}
			if err := tx.SaveProgress(ctx, rebuilt); err != nil {
				return err
			}
			result = &RecomputeResult{
				Previous: prev,
				Progress: rebuilt,
				Changed:  prev == nil || !prev.Equivalent(rebuilt),
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("progress rebuilt from session log",
		"op", op,
		"user_id", userID,
		"changed", result.Changed,
		"cumulative_km", result.Progress.CumulativeKm,
		"points", result.Progress.Points,
	)
	c.invalidate(ctx, result.Progress)
	c.publish(progression.NewProgressUpdated(result.Progress, true, now))
	return result, nil
}

// engine builds the pipeline from the catalog as seen by the transaction.
func (c *ProgressionCoordinator) engine(ctx context.Context, tx progression.Repository) (*progression.Engine, error) {
	destinations, err := tx.LoadDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load destinations: %w", err)
	}
	achievements, err := tx.LoadAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	engine, err := progression.NewEngine(c.cfg.Engine, destinations, achievements)
	if err != nil {
		return nil, fmt.Errorf("build progression engine: %w", err)
	}
	return engine, nil
}

// invalidate evicts the cached view of p's owner. The write is already
// committed, so a failure is only logged and the event handler retries it.
func (c *ProgressionCoordinator) invalidate(ctx context.Context, p *progression.UserProgress) {
	if c.cfg.Invalidator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.InvalidateTimeout)
	defer cancel()
	if err := c.cfg.Invalidator.InvalidateProgressAt(ctx, p.UserID, p.Version); err != nil {
		c.logger.Warn("failed to invalidate progress view", "user_id", p.UserID, "error", err)
	}
}

func (c *ProgressionCoordinator) publish(ev shared.Event) {
	if err := c.publisher.Publish(ev); err != nil {
		c.logger.Error("failed to publish event", "event_type", ev.EventType(), "error", err)
	}
}
