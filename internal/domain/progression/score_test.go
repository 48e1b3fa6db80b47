package progression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/training"
)

func TestLevelCurve_Level(t *testing.T) {
	c := DefaultLevelCurve()
	tests := []struct {
		points int64
		level  int
	}{
		{0, 1}, {99, 1}, {100, 2}, {499, 2}, {500, 3}, {1000, 4},
		{5000, 5}, {10000, 6}, {49999, 6}, {50000, 7}, {99999, 7}, {100000, 8}, {250000, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, c.Level(tt.points), "points=%d", tt.points)
	}
}

func TestLevelCurve_Monotonic(t *testing.T) {
	c := DefaultLevelCurve()
	prev := c.Level(0)
	for p := int64(0); p <= 300000; p += 137 {
		l := c.Level(p)
		assert.GreaterOrEqual(t, l, prev)
		prev = l
	}
}

func TestLevelCurve_NextTarget(t *testing.T) {
	c := DefaultLevelCurve()
	assert.Equal(t, int64(100), c.NextTarget(0))
	assert.Equal(t, int64(500), c.NextTarget(100))
	assert.Equal(t, int64(100000), c.NextTarget(50000))
	assert.Equal(t, int64(150000), c.NextTarget(120000))
	assert.Equal(t, c.Level(c.NextTarget(777)), c.Level(777)+1)
}

func TestLevelCurve_Validate(t *testing.T) {
	assert.Error(t, LevelCurve{Thresholds: []int64{10, 20}, Step: 5}.Validate())
	assert.Error(t, LevelCurve{Thresholds: []int64{0, 20, 20}, Step: 5}.Validate())
	assert.Error(t, LevelCurve{Thresholds: []int64{0}, Step: 0}.Validate())
	assert.NoError(t, DefaultLevelCurve().Validate())
}

func TestScoreEngine_Award(t *testing.T) {
	agg := MustDistanceAggregator(DefaultWeights())
	s, err := NewScoreEngine(DefaultScoreConfig(), agg)
	require.NoError(t, err)

	bike := training.TrainingEntry{DistanceKm: 20, Activity: training.ActivityBike}
	a := s.Award(bike, 0, 0)
	assert.Equal(t, int64(80), a.PointsDelta)
	assert.Nil(t, a.LevelUp)

	a = s.Award(bike, 1, 80)
	assert.Equal(t, int64(130), a.PointsDelta)
	assert.Equal(t, int64(210), a.PointsTotal)
	require.NotNil(t, a.LevelUp)
	assert.Equal(t, LevelChange{From: 1, To: 2}, *a.LevelUp)
}

func TestScoreEngine_PointsSaturate(t *testing.T) {
	agg := MustDistanceAggregator(DefaultWeights())
	s, err := NewScoreEngine(DefaultScoreConfig(), agg)
	require.NoError(t, err)

	huge := training.TrainingEntry{DistanceKm: math.MaxFloat64 / 2, Activity: training.ActivityRun}
	assert.Equal(t, int64(math.MaxInt64), s.EntryPoints(huge))

	prior := int64(math.MaxInt64 - 100)
	run := training.TrainingEntry{DistanceKm: 30, Activity: training.ActivityRun}
	a := s.Award(run, 3, prior)
	assert.Equal(t, int64(math.MaxInt64), a.PointsTotal)
	assert.GreaterOrEqual(t, a.PointsTotal, prior)
	assert.GreaterOrEqual(t, a.Level, s.Curve().Level(prior))

	a = s.Award(huge, 1, prior)
	assert.Equal(t, int64(math.MaxInt64), a.PointsTotal)
	assert.Nil(t, a.LevelUp)
}

func TestDistanceAggregator(t *testing.T) {
	agg := MustDistanceAggregator(DefaultWeights())
	entries := []training.TrainingEntry{
		{DistanceKm: 10, Activity: training.ActivityRun},
		{DistanceKm: 10, Activity: training.ActivityBike},
		{DistanceKm: 10, Activity: training.ActivityWalk},
		{DistanceKm: 10, Activity: training.ActivitySki},
		{DistanceKm: 10, Activity: training.ActivityOther},
	}
	assert.InDelta(t, 35, agg.ComputeCumulative(entries), 1e-9)

	_, err := NewDistanceAggregator(Weights{training.ActivityRun: 1})
	assert.Error(t, err)
}

func TestUnlockEngine_Idempotent(t *testing.T) {
	eng := testEngine(t)
	p := eng.Empty("u1")

	first := eng.unlocks.Unlock(p, []int{1, 2}, t0)
	again := eng.unlocks.Unlock(p, []int{1, 2}, t0)

	assert.Len(t, first, 2)
	assert.Empty(t, again)
	assert.Equal(t, []int{1, 2}, p.UnlockedOrders())
}
