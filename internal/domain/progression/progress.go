// Package progression turns a user's training log into virtual travel
// progress: cumulative distance, unlocked destinations, points, level and
// achievements. Every state is reproducible by replaying the log.
package progression

import (
	"math"
	"sort"
	"time"

	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// distanceTolerance absorbs float noise when comparing stored and
// recomputed cumulative distances.
const distanceTolerance = 1e-6

// UserProgress is the per-user progression aggregate. It is mutated only by
// the progression pipeline; persistence holds the durable copy.
type UserProgress struct {
	UserID       shared.UserID
	CumulativeKm float64
	CurrentOrder int
	Unlocked     map[int]struct{}
	Points       int64
	// Level caches Curve.Level(Points) and is rewritten on every change.
	Level        int
	Achievements map[string]struct{}
	EntryCount   int
	UpdatedAt    time.Time
	// Version increments on every save and guards concurrent writers.
	Version int64
}

// NewUserProgress returns the empty starting state for a user.
func NewUserProgress(userID shared.UserID, startLevel int) *UserProgress {
	return &UserProgress{
		UserID:       userID,
		CurrentOrder: route.StartOrder,
		Unlocked:     make(map[int]struct{}),
		Level:        startLevel,
		Achievements: make(map[string]struct{}),
	}
}

// Clone returns a deep copy.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.Unlocked = make(map[int]struct{}, len(p.Unlocked))
	for k := range p.Unlocked {
		c.Unlocked[k] = struct{}{}
	}
	c.Achievements = make(map[string]struct{}, len(p.Achievements))
	for k := range p.Achievements {
		c.Achievements[k] = struct{}{}
	}
	return &c
}

// UnlockedOrders returns the unlocked destination orders ascending.
func (p *UserProgress) UnlockedOrders() []int {
	out := make([]int, 0, len(p.Unlocked))
	for k := range p.Unlocked {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// AchievementIDs returns earned achievement IDs sorted.
func (p *UserProgress) AchievementIDs() []string {
	out := make([]string, 0, len(p.Achievements))
	for k := range p.Achievements {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsUnlocked reports whether a destination is unlocked.
func (p *UserProgress) IsUnlocked(order int) bool {
	_, ok := p.Unlocked[order]
	return ok
}

// HasAchievement reports whether an achievement was earned.
func (p *UserProgress) HasAchievement(id string) bool {
	_, ok := p.Achievements[id]
	return ok
}

// Equivalent compares the progression-relevant fields, ignoring bookkeeping
// (UpdatedAt, Version).
func (p *UserProgress) Equivalent(o *UserProgress) bool {
	if p.UserID != o.UserID || p.CurrentOrder != o.CurrentOrder || p.Points != o.Points ||
		p.Level != o.Level || p.EntryCount != o.EntryCount ||
		math.Abs(p.CumulativeKm-o.CumulativeKm) > distanceTolerance {
		return false
	}
	if len(p.Unlocked) != len(o.Unlocked) || len(p.Achievements) != len(o.Achievements) {
		return false
	}
	for k := range p.Unlocked {
		if _, ok := o.Unlocked[k]; !ok {
			return false
		}
	}
	for k := range p.Achievements {
		if _, ok := o.Achievements[k]; !ok {
			return false
		}
	}
	return true
}

// CheckConsistency verifies the stored invariants against the route and the
// level curve. Violations are reported as InconsistencyError and must be
// resolved by a full recompute, never patched in place.
func (p *UserProgress) CheckConsistency(r *route.Route, curve LevelCurve) error {
	const op = "CheckConsistency"
	if p.CumulativeKm < 0 || math.IsNaN(p.CumulativeKm) {
		return shared.InconsistencyError("progression", op, "user %s has invalid cumulative distance %v", p.UserID, p.CumulativeKm)
	}
	if !r.IsPrefixClosed(p.Unlocked) {
		return shared.InconsistencyError("progression", op, "user %s unlocked set %v is not prefix-closed", p.UserID, p.UnlockedOrders())
	}
	highest := route.StartOrder
	for _, order := range p.UnlockedOrders() {
		d, _ := r.Get(order)
		if d.ThresholdKm > p.CumulativeKm+distanceTolerance {
			return shared.InconsistencyError("progression", op,
				"user %s has destination %d unlocked below its threshold (%.2f < %.2f)", p.UserID, order, p.CumulativeKm, d.ThresholdKm)
		}
		highest = order
	}
	if p.CurrentOrder != highest {
		return shared.InconsistencyError("progression", op, "user %s current destination %d, highest unlocked %d", p.UserID, p.CurrentOrder, highest)
	}
	if p.Points < 0 {
		return shared.InconsistencyError("progression", op, "user %s has negative points %d", p.UserID, p.Points)
	}
	if want := curve.Level(p.Points); p.Level != want {
		return shared.InconsistencyError("progression", op, "user %s level %d does not match %d points (want %d)", p.UserID, p.Level, p.Points, want)
	}
	return nil
}
