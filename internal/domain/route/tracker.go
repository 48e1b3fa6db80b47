package route

// Location is the result of placing a cumulative distance on the route.
type Location struct {
	// CurrentOrder is the highest unlocked order, or StartOrder.
	CurrentOrder int
	// NewlyUnlocked holds orders crossed by this placement, ascending.
	NewlyUnlocked []int
	// EndOfRoute is set once the last destination is unlocked.
	EndOfRoute bool
}

// Position describes where a user stands between two destinations.
type Position struct {
	Current     *Destination `json:"current,omitempty"`
	Next        *Destination `json:"next,omitempty"`
	KmToNext    float64      `json:"km_to_next"`
	LegFraction float64      `json:"leg_fraction"`
	EndOfRoute  bool         `json:"end_of_route"`
}

// Tracker maps cumulative virtual distance onto a route.
type Tracker struct {
	route *Route
}

// NewTracker creates a tracker for the route.
func NewTracker(r *Route) *Tracker {
	return &Tracker{route: r}
}

// Route returns the underlying route.
func (t *Tracker) Route() *Route {
	return t.route
}

// Locate scans destinations after the highest previously unlocked one and
// collects every destination whose threshold is met, stopping at the first
// unmet threshold. previous must be prefix-closed.
func (t *Tracker) Locate(cumulativeKm float64, previous map[int]struct{}) Location {
	dests := t.route.destinations
	start := 0
	current := StartOrder
	for i, d := range dests {
		if _, ok := previous[d.Order]; !ok {
			break
		}
		start = i + 1
		current = d.Order
	}

	loc := Location{CurrentOrder: current}
	for _, d := range dests[start:] {
		if cumulativeKm < d.ThresholdKm {
			break
		}
		loc.NewlyUnlocked = append(loc.NewlyUnlocked, d.Order)
		loc.CurrentOrder = d.Order
	}
	if last, ok := t.route.Last(); ok && loc.CurrentOrder == last.Order {
		loc.EndOfRoute = true
	}
	return loc
}

// PositionOf describes the leg the user is on. The leg starts at the current
// destination's threshold (0 before the first) and ends at the next one's.
func (t *Tracker) PositionOf(cumulativeKm float64, currentOrder int) Position {
	var pos Position
	legStart := 0.0
	if d, ok := t.route.Get(currentOrder); ok {
		cur := d
		pos.Current = &cur
		legStart = d.ThresholdKm
	}

	nextIdx := 0
	if i, ok := t.route.index[currentOrder]; ok {
		nextIdx = i + 1
	}
	if len(t.route.destinations) == 0 {
		return pos
	}
	if nextIdx >= len(t.route.destinations) {
		pos.EndOfRoute = true
		pos.LegFraction = 1
		return pos
	}

	next := t.route.destinations[nextIdx]
	pos.Next = &next
	pos.KmToNext = next.ThresholdKm - cumulativeKm
	if pos.KmToNext < 0 {
		pos.KmToNext = 0
	}
	if span := next.ThresholdKm - legStart; span > 0 {
		pos.LegFraction = clamp01((cumulativeKm - legStart) / span)
	}
	return pos
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
