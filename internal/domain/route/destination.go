// Package route models the fixed, curated sequence of world destinations a
// user travels along and maps cumulative virtual distance onto it.
package route

import (
	"fmt"
	"math"
	"sort"

	"github.com/followme/followme-hub/internal/domain/shared"
)

// StartOrder is the sentinel position before the first destination.
const StartOrder = 0

// Destination is a node of the route, unlocked once the user's cumulative
// virtual distance reaches ThresholdKm.
type Destination struct {
	Order       int      `json:"order" yaml:"order"`
	Name        string   `json:"name" yaml:"name"`
	Country     string   `json:"country,omitempty" yaml:"country"`
	ThresholdKm float64  `json:"threshold_km" yaml:"threshold_km"`
	Facts       []string `json:"facts,omitempty" yaml:"facts"`
	Images      []string `json:"images,omitempty" yaml:"images"`
}

// Route is a validated destination sequence: orders are positive and strictly
// increasing, and thresholds strictly increase with order.
type Route struct {
	destinations []Destination
	index        map[int]int
}

// NewRoute sorts and validates a destination catalog.
func NewRoute(destinations []Destination) (*Route, error) {
	sorted := make([]Destination, len(destinations))
	copy(sorted, destinations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	index := make(map[int]int, len(sorted))
	for i, d := range sorted {
		if d.Order <= StartOrder {
			return nil, shared.ValidationError("route", "NewRoute", "destination %q has non-positive order %d", d.Name, d.Order)
		}
		if d.Name == "" {
			return nil, shared.ValidationError("route", "NewRoute", "destination %d has no name", d.Order)
		}
		if d.ThresholdKm < 0 || math.IsNaN(d.ThresholdKm) || math.IsInf(d.ThresholdKm, 0) {
			return nil, shared.ValidationError("route", "NewRoute", "destination %d has invalid threshold %v", d.Order, d.ThresholdKm)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Order == d.Order {
				return nil, shared.ValidationError("route", "NewRoute", "duplicate destination order %d", d.Order)
			}
			if d.ThresholdKm <= prev.ThresholdKm {
				return nil, shared.ValidationError("route", "NewRoute",
					"threshold of destination %d (%.2f km) must exceed destination %d (%.2f km)",
					d.Order, d.ThresholdKm, prev.Order, prev.ThresholdKm)
			}
		}
		index[d.Order] = i
	}
	return &Route{destinations: sorted, index: index}, nil
}

// MustRoute is NewRoute for static catalogs known to be valid.
func MustRoute(destinations []Destination) *Route {
	r, err := NewRoute(destinations)
	if err != nil {
		panic(fmt.Sprintf("route: %v", err))
	}
	return r
}

// Len returns the number of destinations.
func (r *Route) Len() int {
	return len(r.destinations)
}

// Destinations returns a copy of the ordered sequence.
func (r *Route) Destinations() []Destination {
	out := make([]Destination, len(r.destinations))
	copy(out, r.destinations)
	return out
}

// Get returns the destination with the given order.
func (r *Route) Get(order int) (Destination, bool) {
	i, ok := r.index[order]
	if !ok {
		return Destination{}, false
	}
	return r.destinations[i], true
}

// Last returns the final destination, if any.
func (r *Route) Last() (Destination, bool) {
	if len(r.destinations) == 0 {
		return Destination{}, false
	}
	return r.destinations[len(r.destinations)-1], true
}

// Prefix returns the orders of the first k destinations.
func (r *Route) Prefix(k int) []int {
	if k > len(r.destinations) {
		k = len(r.destinations)
	}
	out := make([]int, 0, k)
	for _, d := range r.destinations[:k] {
		out = append(out, d.Order)
	}
	return out
}

// IsPrefixClosed reports whether unlocked is exactly the first len(unlocked)
// destinations of the route.
func (r *Route) IsPrefixClosed(unlocked map[int]struct{}) bool {
	if len(unlocked) > len(r.destinations) {
		return false
	}
	for _, order := range r.Prefix(len(unlocked)) {
		if _, ok := unlocked[order]; !ok {
			return false
		}
	}
	return true
}
