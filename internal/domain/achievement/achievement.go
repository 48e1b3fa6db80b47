// Package achievement defines the static achievement catalog and the pure
// evaluator that decides which achievements a training history has earned.
package achievement

import (
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// RuleKind selects the predicate an achievement is evaluated with.
type RuleKind string

const (
	// RuleTotalKm: cumulative virtual distance >= Threshold. With Activity
	// set, raw km of that activity is used instead.
	RuleTotalKm RuleKind = "total_km"
	// RuleWorkouts: number of logged entries >= Threshold.
	RuleWorkouts RuleKind = "workouts"
	// RuleSessionsInWeek: at least Threshold entries inside one ISO week.
	RuleSessionsInWeek RuleKind = "sessions_in_week"
	// RuleSingleSessionKm: one entry with raw distance >= Threshold.
	RuleSingleSessionKm RuleKind = "single_session_km"
	// RuleAllDestinations: every destination of the route unlocked.
	RuleAllDestinations RuleKind = "all_destinations"
	// RuleLevel: level >= Threshold.
	RuleLevel RuleKind = "level"
)

// IsValid reports whether the kind has an evaluator.
func (k RuleKind) IsValid() bool {
	switch k {
	case RuleTotalKm, RuleWorkouts, RuleSessionsInWeek, RuleSingleSessionKm, RuleAllDestinations, RuleLevel:
		return true
	}
	return false
}

// Rule is a tagged predicate: a kind plus its parameters.
type Rule struct {
	Kind      RuleKind              `json:"kind" yaml:"kind"`
	Threshold float64               `json:"threshold" yaml:"threshold"`
	Activity  training.ActivityType `json:"activity,omitempty" yaml:"activity"`
}

// Achievement is static reference data.
type Achievement struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Rule        Rule   `json:"rule" yaml:"rule"`
}

// Validate checks catalog data.
func (a Achievement) Validate() error {
	if a.ID == "" {
		return shared.ValidationError("achievement", "Validate", "achievement has no id")
	}
	if !a.Rule.Kind.IsValid() {
		return shared.ValidationError("achievement", "Validate", "achievement %s has unknown rule %q", a.ID, a.Rule.Kind)
	}
	if a.Rule.Threshold < 0 {
		return shared.ValidationError("achievement", "Validate", "achievement %s has negative threshold", a.ID)
	}
	if a.Rule.Activity != "" && !a.Rule.Activity.IsValid() {
		return shared.ValidationError("achievement", "Validate", "achievement %s filters unknown activity %q", a.ID, a.Rule.Activity)
	}
	return nil
}

// Snapshot is everything a rule may look at. It is rebuilt from history on
// every evaluation, so rules stay re-evaluable after deletions.
type Snapshot struct {
	History              []training.TrainingEntry
	CumulativeKm         float64
	Points               int64
	Level                int
	UnlockedDestinations int
	TotalDestinations    int
}

// Satisfied evaluates the rule against a snapshot.
func (r Rule) Satisfied(s Snapshot) bool {
	switch r.Kind {
	case RuleTotalKm:
		if r.Activity != "" {
			return training.TotalKm(s.History, r.Activity) >= r.Threshold
		}
		return s.CumulativeKm >= r.Threshold
	case RuleWorkouts:
		return float64(countActivity(s.History, r.Activity)) >= r.Threshold
	case RuleSessionsInWeek:
		return float64(maxSessionsInWeek(s.History, r.Activity)) >= r.Threshold
	case RuleSingleSessionKm:
		for _, e := range s.History {
			if (r.Activity == "" || e.Activity == r.Activity) && e.DistanceKm >= r.Threshold {
				return true
			}
		}
		return false
	case RuleAllDestinations:
		return s.TotalDestinations > 0 && s.UnlockedDestinations >= s.TotalDestinations
	case RuleLevel:
		return float64(s.Level) >= r.Threshold
	}
	return false
}

func countActivity(entries []training.TrainingEntry, activity training.ActivityType) int {
	if activity == "" {
		return len(entries)
	}
	n := 0
	for _, e := range entries {
		if e.Activity == activity {
			n++
		}
	}
	return n
}

type isoWeek struct{ year, week int }

func maxSessionsInWeek(entries []training.TrainingEntry, activity training.ActivityType) int {
	counts := make(map[isoWeek]int)
	best := 0
	for _, e := range entries {
		if activity != "" && e.Activity != activity {
			continue
		}
		y, w := e.Timestamp.In(time.UTC).ISOWeek()
		k := isoWeek{y, w}
		counts[k]++
		if counts[k] > best {
			best = counts[k]
		}
	}
	return best
}
