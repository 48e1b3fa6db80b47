package progression

import (
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// EngineConfig holds the tunable constants of the pipeline.
type EngineConfig struct {
	Weights Weights
	Score   ScoreConfig
}

// DefaultEngineConfig returns stock weights and scoring.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights: DefaultWeights(),
		Score:   DefaultScoreConfig(),
	}
}

// Engine is the deterministic progression pipeline: aggregate, locate,
// unlock, score, evaluate achievements.
type Engine struct {
	route        *route.Route
	tracker      *route.Tracker
	aggregator   *DistanceAggregator
	unlocks      *UnlockEngine
	score        *ScoreEngine
	achievements *achievement.Engine
}

// NewEngine builds a pipeline over the given catalogs.
func NewEngine(cfg EngineConfig, destinations []route.Destination, achievements []achievement.Achievement) (*Engine, error) {
	r, err := route.NewRoute(destinations)
	if err != nil {
		return nil, err
	}
	agg, err := NewDistanceAggregator(cfg.Weights)
	if err != nil {
		return nil, err
	}
	score, err := NewScoreEngine(cfg.Score, agg)
	if err != nil {
		return nil, err
	}
	ach, err := achievement.NewEngine(achievements)
	if err != nil {
		return nil, err
	}
	return &Engine{
		route:        r,
		tracker:      route.NewTracker(r),
		aggregator:   agg,
		unlocks:      NewUnlockEngine(r),
		score:        score,
		achievements: ach,
	}, nil
}

// Route returns the destination route.
func (e *Engine) Route() *route.Route { return e.route }

// Tracker returns the route tracker.
func (e *Engine) Tracker() *route.Tracker { return e.tracker }

// Aggregator returns the distance aggregator.
func (e *Engine) Aggregator() *DistanceAggregator { return e.aggregator }

// Curve returns the level curve.
func (e *Engine) Curve() LevelCurve { return e.score.Curve() }

// Achievements returns the achievement engine.
func (e *Engine) Achievements() *achievement.Engine { return e.achievements }

// Empty returns the starting state for a user.
func (e *Engine) Empty(userID shared.UserID) *UserProgress {
	return NewUserProgress(userID, e.score.Curve().Level(0))
}

// Outcome is the result of applying one entry.
type Outcome struct {
	Progress *UserProgress
	// Events are ordered: unlocks ascending, at most one LevelUp, then
	// achievements in catalog order.
	Events []ProgressionEvent
}

// Unlocks returns the DestinationUnlocked events of the outcome.
func (o Outcome) Unlocks() []DestinationUnlocked {
	var out []DestinationUnlocked
	for _, ev := range o.Events {
		if u, ok := ev.(DestinationUnlocked); ok {
			out = append(out, u)
		}
	}
	return out
}

// Apply folds one entry into prev. history is the user's full log in
// timestamp order and must already contain entry. prev is not modified.
func (e *Engine) Apply(prev *UserProgress, entry training.TrainingEntry, history []training.TrainingEntry, at time.Time) Outcome {
	next := prev.Clone()
	next.CumulativeKm = e.aggregator.ComputeCumulative(history)
	next.EntryCount = len(history)

	loc := e.tracker.Locate(next.CumulativeKm, next.Unlocked)
	unlocked := e.unlocks.Unlock(next, loc.NewlyUnlocked, at)
	next.CurrentOrder = loc.CurrentOrder

	award := e.score.Award(entry, len(unlocked), prev.Points)
	next.Points = award.PointsTotal
	next.Level = award.Level

	earned := e.achievements.Evaluate(e.snapshot(next, history), next.Achievements)
	for _, a := range earned {
		next.Achievements[a.ID] = struct{}{}
	}

	events := make([]ProgressionEvent, 0, len(unlocked)+1+len(earned))
	for _, u := range unlocked {
		events = append(events, u)
	}
	if award.LevelUp != nil {
		events = append(events, NewLevelUp(next.UserID, *award.LevelUp, at))
	}
	for _, a := range earned {
		events = append(events, NewAchievementEarned(next.UserID, a, at))
	}
	return Outcome{Progress: next, Events: events}
}

// Replay rebuilds progress from empty state by applying entries in timestamp
// order. It is the single source of truth for recomputation.
func (e *Engine) Replay(userID shared.UserID, entries []training.TrainingEntry, at time.Time) *UserProgress {
	sorted := make([]training.TrainingEntry, len(entries))
	copy(sorted, entries)
	training.SortEntries(sorted)

	p := e.Empty(userID)
	for i := range sorted {
		p = e.Apply(p, sorted[i], sorted[:i+1], at).Progress
	}
	return p
}

func (e *Engine) snapshot(p *UserProgress, history []training.TrainingEntry) achievement.Snapshot {
	return achievement.Snapshot{
		History:              history,
		CumulativeKm:         p.CumulativeKm,
		Points:               p.Points,
		Level:                p.Level,
		UnlockedDestinations: len(p.Unlocked),
		TotalDestinations:    e.route.Len(),
	}
}
