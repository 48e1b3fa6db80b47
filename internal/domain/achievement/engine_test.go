package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/training"
)

func entry(day time.Time, km float64, a training.ActivityType) training.TrainingEntry {
	return training.TrainingEntry{Timestamp: day, DistanceKm: km, Activity: a}
}

func TestRule_Satisfied(t *testing.T) {
	mon := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	history := []training.TrainingEntry{
		entry(mon, 5, training.ActivityRun),
		entry(mon.AddDate(0, 0, 2), 12, training.ActivitySki),
		entry(mon.AddDate(0, 0, 6), 3, training.ActivityRun),
		entry(mon.AddDate(0, 0, 7), 3, training.ActivityRun), // next ISO week
	}
	snap := Snapshot{History: history, CumulativeKm: 23, Level: 2, UnlockedDestinations: 1, TotalDestinations: 2}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"total km met", Rule{Kind: RuleTotalKm, Threshold: 23}, true},
		{"total km not met", Rule{Kind: RuleTotalKm, Threshold: 23.5}, false},
		{"total km per activity", Rule{Kind: RuleTotalKm, Threshold: 11, Activity: training.ActivityRun}, true},
		{"workouts", Rule{Kind: RuleWorkouts, Threshold: 4}, true},
		{"workouts per activity", Rule{Kind: RuleWorkouts, Threshold: 2, Activity: training.ActivitySki}, false},
		{"three in one week", Rule{Kind: RuleSessionsInWeek, Threshold: 3}, true},
		{"four in one week", Rule{Kind: RuleSessionsInWeek, Threshold: 4}, false},
		{"single long session", Rule{Kind: RuleSingleSessionKm, Threshold: 12}, true},
		{"single long run", Rule{Kind: RuleSingleSessionKm, Threshold: 12, Activity: training.ActivityRun}, false},
		{"all destinations", Rule{Kind: RuleAllDestinations}, false},
		{"level", Rule{Kind: RuleLevel, Threshold: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Satisfied(snap))
		})
	}
}

func TestRule_AllDestinationsNeedsARoute(t *testing.T) {
	r := Rule{Kind: RuleAllDestinations}
	assert.False(t, r.Satisfied(Snapshot{}))
	assert.True(t, r.Satisfied(Snapshot{UnlockedDestinations: 3, TotalDestinations: 3}))
}

func TestEngine_EvaluateSkipsEarned(t *testing.T) {
	eng, err := NewEngine([]Achievement{
		{ID: "first_km", Rule: Rule{Kind: RuleTotalKm, Threshold: 1}},
		{ID: "ten_km", Rule: Rule{Kind: RuleTotalKm, Threshold: 10}},
		{ID: "fifty_km", Rule: Rule{Kind: RuleTotalKm, Threshold: 50}},
	})
	require.NoError(t, err)

	got := eng.Evaluate(Snapshot{CumulativeKm: 12}, map[string]struct{}{"first_km": {}})
	require.Len(t, got, 1)
	assert.Equal(t, "ten_km", got[0].ID)
}

func TestNewEngine_RejectsBadCatalog(t *testing.T) {
	_, err := NewEngine([]Achievement{
		{ID: "a", Rule: Rule{Kind: RuleWorkouts, Threshold: 1}},
		{ID: "a", Rule: Rule{Kind: RuleWorkouts, Threshold: 2}},
	})
	assert.Error(t, err)

	_, err = NewEngine([]Achievement{{ID: "b", Rule: Rule{Kind: "streak"}}})
	assert.Error(t, err)
}
