package progression

import (
	"time"

	"github.com/followme/followme-hub/internal/domain/route"
)

// UnlockEngine turns crossed destinations into unlock events.
type UnlockEngine struct {
	route *route.Route
}

// NewUnlockEngine creates an unlock engine for the route.
func NewUnlockEngine(r *route.Route) *UnlockEngine {
	return &UnlockEngine{route: r}
}

// Unlock adds orders to p.Unlocked and returns one event per destination not
// previously unlocked. Repeated calls with the same orders are no-ops.
func (u *UnlockEngine) Unlock(p *UserProgress, orders []int, at time.Time) []DestinationUnlocked {
	var events []DestinationUnlocked
	for _, order := range orders {
		if p.IsUnlocked(order) {
			continue
		}
		d, ok := u.route.Get(order)
		if !ok {
			continue
		}
		p.Unlocked[order] = struct{}{}
		events = append(events, NewDestinationUnlocked(p.UserID, d, at))
	}
	return events
}
