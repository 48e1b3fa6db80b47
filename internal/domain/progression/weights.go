package progression

import (
	"fmt"
	"math"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// Weights converts raw kilometers per activity into virtual kilometers.
type Weights map[training.ActivityType]float64

// DefaultWeights are the stock conversion factors.
func DefaultWeights() Weights {
	return Weights{
		training.ActivityRun:   1.0,
		training.ActivityBike:  0.4,
		training.ActivitySki:   1.0,
		training.ActivityWalk:  0.6,
		training.ActivityOther: 0.5,
	}
}

// Validate requires a finite, non-negative weight for every activity.
func (w Weights) Validate() error {
	for _, a := range training.AllActivityTypes {
		v, ok := w[a]
		if !ok {
			return shared.ValidationError("progression", "Weights.Validate", "missing weight for %s", a)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return shared.ValidationError("progression", "Weights.Validate", "invalid weight %v for %s", v, a)
		}
	}
	for a := range w {
		if !a.IsValid() {
			return shared.ValidationError("progression", "Weights.Validate", "weight for unknown activity %q", a)
		}
	}
	return nil
}

// DistanceAggregator computes virtual distance from training entries.
type DistanceAggregator struct {
	weights Weights
}

// NewDistanceAggregator validates and copies the weights.
func NewDistanceAggregator(w Weights) (*DistanceAggregator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	cp := make(Weights, len(w))
	for k, v := range w {
		cp[k] = v
	}
	return &DistanceAggregator{weights: cp}, nil
}

// MustDistanceAggregator panics on invalid weights.
func MustDistanceAggregator(w Weights) *DistanceAggregator {
	a, err := NewDistanceAggregator(w)
	if err != nil {
		panic(fmt.Sprintf("progression: %v", err))
	}
	return a
}

// Weight returns the factor for an activity.
func (a *DistanceAggregator) Weight(t training.ActivityType) float64 {
	return a.weights[t]
}

// Weighted returns the virtual distance of one entry.
func (a *DistanceAggregator) Weighted(e training.TrainingEntry) float64 {
	return e.DistanceKm * a.weights[e.Activity]
}

// ComputeCumulative sums weighted distance over entries. Callers pass entries
// in timestamp order so the float result is reproducible.
func (a *DistanceAggregator) ComputeCumulative(entries []training.TrainingEntry) float64 {
	var total float64
	for _, e := range entries {
		total += a.Weighted(e)
	}
	return total
}
