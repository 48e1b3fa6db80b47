package progression

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

var t0 = time.Date(2025, 4, 7, 6, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(DefaultEngineConfig(),
		[]route.Destination{
			{Order: 1, Name: "Tromsø", ThresholdKm: 10},
			{Order: 2, Name: "Stockholm", ThresholdKm: 25},
		},
		[]achievement.Achievement{
			{ID: "first_km", Rule: achievement.Rule{Kind: achievement.RuleTotalKm, Threshold: 1}},
			{ID: "ten_km", Rule: achievement.Rule{Kind: achievement.RuleTotalKm, Threshold: 10}},
			{ID: "workouts_5", Rule: achievement.Rule{Kind: achievement.RuleWorkouts, Threshold: 5}},
			{ID: "globetrotter", Rule: achievement.Rule{Kind: achievement.RuleAllDestinations}},
		})
	require.NoError(t, err)
	return eng
}

func run(id string, km float64, at time.Time) training.TrainingEntry {
	return training.TrainingEntry{ID: training.EntryID(id), UserID: "u1", Timestamp: at, DistanceKm: km, Activity: training.ActivityRun}
}

func eventTypes(events []ProgressionEvent) []shared.EventType {
	out := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}

func TestEngine_LongRunUnlocksWholePrefix(t *testing.T) {
	eng := testEngine(t)
	e := run("e1", 30, t0)

	out := eng.Apply(eng.Empty("u1"), e, []training.TrainingEntry{e}, t0)

	p := out.Progress
	assert.InDelta(t, 30, p.CumulativeKm, 1e-9)
	assert.Equal(t, []int{1, 2}, p.UnlockedOrders())
	assert.Equal(t, 2, p.CurrentOrder)
	// 300 points for distance + 2 * 50 unlock bonus.
	assert.Equal(t, int64(400), p.Points)
	assert.Equal(t, 2, p.Level)

	assert.Equal(t, []shared.EventType{
		shared.EventDestinationUnlocked,
		shared.EventDestinationUnlocked,
		shared.EventLevelUp,
		shared.EventAchievementEarned,
		shared.EventAchievementEarned,
		shared.EventAchievementEarned,
	}, eventTypes(out.Events))

	unlocks := out.Unlocks()
	require.Len(t, unlocks, 2)
	assert.Equal(t, 1, unlocks[0].Destination.Order)
	assert.Equal(t, 2, unlocks[1].Destination.Order)

	lvl, ok := out.Events[2].(LevelUp)
	require.True(t, ok)
	assert.Equal(t, 1, lvl.FromLevel)
	assert.Equal(t, 2, lvl.ToLevel)
}

func TestEngine_ThresholdReachedOnSecondRun(t *testing.T) {
	eng := testEngine(t)
	e1 := run("e1", 5, t0)
	e2 := run("e2", 5, t0.Add(24*time.Hour))

	first := eng.Apply(eng.Empty("u1"), e1, []training.TrainingEntry{e1}, t0)
	assert.Empty(t, first.Progress.Unlocked)
	assert.Empty(t, first.Unlocks())

	second := eng.Apply(first.Progress, e2, []training.TrainingEntry{e1, e2}, t0)
	assert.Equal(t, []int{1}, second.Progress.UnlockedOrders())
	require.Len(t, second.Unlocks(), 1)
	assert.Equal(t, 1, second.Progress.CurrentOrder)
}

func TestEngine_ApplyDoesNotMutatePrevious(t *testing.T) {
	eng := testEngine(t)
	prev := eng.Empty("u1")
	e := run("e1", 30, t0)

	eng.Apply(prev, e, []training.TrainingEntry{e}, t0)
	assert.Empty(t, prev.Unlocked)
	assert.Zero(t, prev.Points)
}

func TestEngine_LevelUpCollapsesIntoOneEvent(t *testing.T) {
	eng := testEngine(t)
	// 120 km -> 1200 points + bonuses: crosses levels 2, 3 and 4 at once.
	e := run("e1", 120, t0)
	out := eng.Apply(eng.Empty("u1"), e, []training.TrainingEntry{e}, t0)

	var ups []LevelUp
	for _, ev := range out.Events {
		if l, ok := ev.(LevelUp); ok {
			ups = append(ups, l)
		}
	}
	require.Len(t, ups, 1)
	assert.Equal(t, 1, ups[0].FromLevel)
	assert.Equal(t, 4, ups[0].ToLevel)
}

func TestEngine_ReplayOfEmptyLogIsStartState(t *testing.T) {
	eng := testEngine(t)
	p := eng.Replay("u1", nil, t0)

	assert.Zero(t, p.CumulativeKm)
	assert.Empty(t, p.Unlocked)
	assert.Zero(t, p.Points)
	assert.Equal(t, StartLevel, p.Level)
	assert.Empty(t, p.Achievements)
	assert.Equal(t, route.StartOrder, p.CurrentOrder)
}

func TestEngine_ReplayMatchesIncrementalSubmission(t *testing.T) {
	eng := testEngine(t)
	rng := rand.New(rand.NewSource(42))
	activities := training.AllActivityTypes

	var history []training.TrainingEntry
	p := eng.Empty("u1")
	for i := 0; i < 40; i++ {
		e := training.TrainingEntry{
			ID:         training.EntryID(fmt.Sprintf("e%02d", i)),
			UserID:     "u1",
			Timestamp:  t0.Add(time.Duration(rng.Intn(500)) * time.Hour),
			DistanceKm: 0.5 + rng.Float64()*12,
			Activity:   activities[rng.Intn(len(activities))],
		}
		history = append(history, e)
		training.SortEntries(history)

		prevLevel := p.Level
		p = eng.Apply(p, e, history, t0).Progress
		assert.GreaterOrEqual(t, p.Level, prevLevel)
		assert.True(t, eng.Route().IsPrefixClosed(p.Unlocked))
		require.NoError(t, p.CheckConsistency(eng.Route(), eng.Curve()))
	}

	replayed := eng.Replay("u1", history, t0)
	assert.True(t, p.Equivalent(replayed), "incremental %+v != replay %+v", p, replayed)

	// Replaying twice is deterministic.
	assert.True(t, replayed.Equivalent(eng.Replay("u1", history, t0)))
}

func TestEngine_DeleteThenReplayDropsEverything(t *testing.T) {
	eng := testEngine(t)
	e := run("e1", 5, t0)
	p := eng.Apply(eng.Empty("u1"), e, []training.TrainingEntry{e}, t0).Progress
	require.True(t, p.HasAchievement("first_km"))

	rebuilt := eng.Replay("u1", nil, t0)
	assert.Zero(t, rebuilt.CumulativeKm)
	assert.Empty(t, rebuilt.Unlocked)
	assert.Zero(t, rebuilt.Points)
	assert.Equal(t, StartLevel, rebuilt.Level)
	assert.Empty(t, rebuilt.Achievements)
}

func TestUserProgress_CheckConsistency(t *testing.T) {
	eng := testEngine(t)
	good := eng.Replay("u1", []training.TrainingEntry{run("e1", 12, t0)}, t0)
	require.NoError(t, good.CheckConsistency(eng.Route(), eng.Curve()))

	tests := []struct {
		name   string
		mutate func(p *UserProgress)
	}{
		{"gap in unlocked set", func(p *UserProgress) { p.Unlocked = map[int]struct{}{2: {}} }},
		{"unlocked above distance", func(p *UserProgress) { p.CumulativeKm = 3 }},
		{"wrong current", func(p *UserProgress) { p.CurrentOrder = 2 }},
		{"stale level", func(p *UserProgress) { p.Level = 9 }},
		{"negative points", func(p *UserProgress) { p.Points = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good.Clone()
			tt.mutate(p)
			err := p.CheckConsistency(eng.Route(), eng.Curve())
			assert.True(t, shared.IsInconsistent(err), "got %v", err)
		})
	}
}
