package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/shared"
)

func twoStops() *Route {
	return MustRoute([]Destination{
		{Order: 2, Name: "Stockholm", ThresholdKm: 25},
		{Order: 1, Name: "Tromsø", ThresholdKm: 10},
	})
}

func set(orders ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(orders))
	for _, o := range orders {
		m[o] = struct{}{}
	}
	return m
}

func TestNewRoute_Validation(t *testing.T) {
	tests := []struct {
		name  string
		dests []Destination
	}{
		{"duplicate order", []Destination{{Order: 1, Name: "a", ThresholdKm: 1}, {Order: 1, Name: "b", ThresholdKm: 2}}},
		{"non increasing threshold", []Destination{{Order: 1, Name: "a", ThresholdKm: 5}, {Order: 2, Name: "b", ThresholdKm: 5}}},
		{"zero order", []Destination{{Order: 0, Name: "a", ThresholdKm: 1}}},
		{"negative threshold", []Destination{{Order: 1, Name: "a", ThresholdKm: -1}}},
		{"missing name", []Destination{{Order: 1, ThresholdKm: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoute(tt.dests)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestTracker_Locate(t *testing.T) {
	tr := NewTracker(twoStops())

	tests := []struct {
		name     string
		km       float64
		previous map[int]struct{}
		current  int
		newly    []int
		end      bool
	}{
		{"nothing reached", 9.99, set(), StartOrder, nil, false},
		{"exact threshold", 10, set(), 1, []int{1}, false},
		{"jump over both", 30, set(), 2, []int{1, 2}, true},
		{"already unlocked first", 30, set(1), 2, []int{2}, true},
		{"end of route is terminal", 5000, set(1, 2), 2, nil, true},
		{"below next threshold", 24, set(1), 1, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := tr.Locate(tt.km, tt.previous)
			assert.Equal(t, tt.current, loc.CurrentOrder)
			assert.Equal(t, tt.newly, loc.NewlyUnlocked)
			assert.Equal(t, tt.end, loc.EndOfRoute)
		})
	}
}

func TestTracker_LocateStopsAtFirstUnmetThreshold(t *testing.T) {
	r := MustRoute([]Destination{
		{Order: 1, Name: "a", ThresholdKm: 0},
		{Order: 2, Name: "b", ThresholdKm: 100},
		{Order: 3, Name: "c", ThresholdKm: 200},
	})
	loc := NewTracker(r).Locate(150, set())
	assert.Equal(t, []int{1, 2}, loc.NewlyUnlocked)
	assert.Equal(t, 2, loc.CurrentOrder)
}

func TestTracker_PositionOf(t *testing.T) {
	tr := NewTracker(twoStops())

	pos := tr.PositionOf(5, StartOrder)
	assert.Nil(t, pos.Current)
	require.NotNil(t, pos.Next)
	assert.Equal(t, 1, pos.Next.Order)
	assert.InDelta(t, 5, pos.KmToNext, 1e-9)
	assert.InDelta(t, 0.5, pos.LegFraction, 1e-9)

	pos = tr.PositionOf(20, 1)
	require.NotNil(t, pos.Current)
	assert.Equal(t, 2, pos.Next.Order)
	assert.InDelta(t, 5, pos.KmToNext, 1e-9)
	assert.InDelta(t, 10.0/15.0, pos.LegFraction, 1e-9)

	pos = tr.PositionOf(40, 2)
	assert.True(t, pos.EndOfRoute)
	assert.Nil(t, pos.Next)
	assert.Equal(t, 1.0, pos.LegFraction)
}

func TestRoute_IsPrefixClosed(t *testing.T) {
	r := twoStops()
	assert.True(t, r.IsPrefixClosed(set()))
	assert.True(t, r.IsPrefixClosed(set(1)))
	assert.True(t, r.IsPrefixClosed(set(1, 2)))
	assert.False(t, r.IsPrefixClosed(set(2)))
	assert.False(t, r.IsPrefixClosed(set(1, 2, 3)))
}
