package progression

import (
	"fmt"
	"math"
	"sort"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// StartLevel is the level of a user without points.
const StartLevel = 1

// LevelCurve is a monotonic step function from points to level. Thresholds[i]
// is the minimum points for level i+1; past the last threshold every Step
// additional points add one level.
type LevelCurve struct {
	Thresholds []int64
	Step       int64
}

// DefaultLevelCurve mirrors the classic km curve (10/50/100/500/1000/5000 km,
// then one level per 5000 km) at 10 points per km.
func DefaultLevelCurve() LevelCurve {
	return LevelCurve{
		Thresholds: []int64{0, 100, 500, 1000, 5000, 10000, 50000},
		Step:       50000,
	}
}

// Validate checks monotonicity.
func (c LevelCurve) Validate() error {
	if len(c.Thresholds) == 0 || c.Thresholds[0] != 0 {
		return shared.ValidationError("progression", "LevelCurve.Validate", "first level threshold must be 0")
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i] <= c.Thresholds[i-1] {
			return shared.ValidationError("progression", "LevelCurve.Validate",
				"level thresholds must strictly increase (%d <= %d)", c.Thresholds[i], c.Thresholds[i-1])
		}
	}
	if c.Step <= 0 {
		return shared.ValidationError("progression", "LevelCurve.Validate", "level step must be positive")
	}
	return nil
}

// Level returns f(points).
func (c LevelCurve) Level(points int64) int {
	if points < 0 {
		points = 0
	}
	// Index of the first threshold strictly above points.
	i := sort.Search(len(c.Thresholds), func(i int) bool { return c.Thresholds[i] > points })
	if i < len(c.Thresholds) {
		return StartLevel + i - 1
	}
	last := c.Thresholds[len(c.Thresholds)-1]
	return StartLevel + len(c.Thresholds) - 1 + int((points-last)/c.Step)
}

// NextTarget returns the points at which the next level starts.
func (c LevelCurve) NextTarget(points int64) int64 {
	if points < 0 {
		points = 0
	}
	for _, t := range c.Thresholds {
		if t > points {
			return t
		}
	}
	last := c.Thresholds[len(c.Thresholds)-1]
	return last + ((points-last)/c.Step+1)*c.Step
}

// ScoreConfig holds tunable scoring constants.
type ScoreConfig struct {
	PointsPerKm float64
	UnlockBonus int64
	Curve       LevelCurve
}

// DefaultScoreConfig returns the stock scoring constants.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		PointsPerKm: 10,
		UnlockBonus: 50,
		Curve:       DefaultLevelCurve(),
	}
}

// Award is the scoring result for one submission.
type Award struct {
	PointsDelta int64
	PointsTotal int64
	Level       int
	LevelUp     *LevelChange
}

// LevelChange spans every level crossed in one submission.
type LevelChange struct {
	From int
	To   int
}

// ScoreEngine converts entries and unlocks into points and level.
type ScoreEngine struct {
	cfg        ScoreConfig
	aggregator *DistanceAggregator
}

// NewScoreEngine validates the configuration.
func NewScoreEngine(cfg ScoreConfig, aggregator *DistanceAggregator) (*ScoreEngine, error) {
	if cfg.PointsPerKm < 0 || math.IsNaN(cfg.PointsPerKm) || math.IsInf(cfg.PointsPerKm, 0) {
		return nil, shared.ValidationError("progression", "NewScoreEngine", "points per km must be a non-negative number")
	}
	if cfg.UnlockBonus < 0 {
		return nil, shared.ValidationError("progression", "NewScoreEngine", "unlock bonus must be non-negative")
	}
	if err := cfg.Curve.Validate(); err != nil {
		return nil, err
	}
	return &ScoreEngine{cfg: cfg, aggregator: aggregator}, nil
}

// Curve returns the level curve.
func (s *ScoreEngine) Curve() LevelCurve {
	return s.cfg.Curve
}

// EntryPoints returns points for the weighted distance of one entry,
// saturating at math.MaxInt64.
func (s *ScoreEngine) EntryPoints(e training.TrainingEntry) int64 {
	p := math.Round(s.aggregator.Weighted(e) * s.cfg.PointsPerKm)
	switch {
	case math.IsNaN(p) || p <= 0:
		return 0
	case p >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(p)
}

// Award scores one entry plus the destinations it unlocked. A single
// LevelChange is returned when the level strictly increases.
func (s *ScoreEngine) Award(e training.TrainingEntry, unlocked int, priorPoints int64) Award {
	delta := addPoints(s.EntryPoints(e), mulPoints(int64(unlocked), s.cfg.UnlockBonus))
	total := addPoints(priorPoints, delta)
	from, to := s.cfg.Curve.Level(priorPoints), s.cfg.Curve.Level(total)

	a := Award{PointsDelta: delta, PointsTotal: total, Level: to}
	if to > from {
		a.LevelUp = &LevelChange{From: from, To: to}
	}
	return a
}

// addPoints adds two non-negative point counts, saturating at math.MaxInt64
// so a total never wraps negative.
func addPoints(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

func mulPoints(n, each int64) int64 {
	if n == 0 || each == 0 {
		return 0
	}
	if each > math.MaxInt64/n {
		return math.MaxInt64
	}
	return n * each
}

// String implements fmt.Stringer.
func (c LevelChange) String() string {
	return fmt.Sprintf("%d->%d", c.From, c.To)
}
