// Package challenge models time-boxed distance goals users can join.
package challenge

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// Status of a challenge relative to a given day.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// Challenge is a distance target inside a date window, optionally limited to
// one activity. Dates are whole days; the window includes both ends.
type Challenge struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description" yaml:"description"`
	StartDate   time.Time             `json:"start_date" yaml:"start_date"`
	EndDate     time.Time             `json:"end_date" yaml:"end_date"`
	TargetKm    float64               `json:"target_km" yaml:"target_km"`
	Activity    training.ActivityType `json:"activity,omitempty" yaml:"activity"`
}

// Validate checks catalog data.
func (c Challenge) Validate() error {
	if c.ID == "" || c.Name == "" {
		return shared.ValidationError("challenge", "Validate", "challenge needs id and name")
	}
	if c.EndDate.Before(c.StartDate) {
		return shared.ValidationError("challenge", "Validate", "challenge %s ends before it starts", c.ID)
	}
	if c.TargetKm <= 0 {
		return shared.ValidationError("challenge", "Validate", "challenge %s needs a positive target", c.ID)
	}
	if c.Activity != "" && !c.Activity.IsValid() {
		return shared.ValidationError("challenge", "Validate", "challenge %s filters unknown activity %q", c.ID, c.Activity)
	}
	return nil
}

// Window returns the inclusive time range covered by the challenge.
func (c Challenge) Window() shared.TimeRange {
	return shared.DayRange(c.StartDate, c.EndDate)
}

// StatusAt reports the status on the day of now.
func (c Challenge) StatusAt(now time.Time) Status {
	w := c.Window()
	switch {
	case now.Before(w.From):
		return StatusUpcoming
	case now.After(w.To):
		return StatusEnded
	}
	return StatusActive
}

// Progress is a member's standing in a challenge.
type Progress struct {
	Challenge Challenge `json:"challenge"`
	Status    Status    `json:"status"`
	Joined    bool      `json:"joined"`
	KmDone    float64   `json:"km_done"`
	Percent   int       `json:"percent"`
	Completed bool      `json:"completed"`
}

// Evaluate computes progress from the member's entries. Only raw kilometers
// inside the window and matching the activity filter count.
func (c Challenge) Evaluate(entries []training.TrainingEntry, joined bool, now time.Time) Progress {
	p := Progress{Challenge: c, Status: c.StatusAt(now), Joined: joined}
	if !joined {
		return p
	}
	w := c.Window()
	inWindow := training.Filter(entries, func(e training.TrainingEntry) bool { return w.Contains(e.Timestamp) })
	p.KmDone = training.TotalKm(inWindow, c.Activity)
	if c.TargetKm > 0 {
		pct := int(p.KmDone / c.TargetKm * 100)
		if pct > 100 {
			pct = 100
		}
		p.Percent = pct
	}
	p.Completed = p.KmDone >= c.TargetKm
	return p
}

// Repository persists challenges and memberships.
type Repository interface {
	ListChallenges(ctx context.Context) ([]Challenge, error)
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	UpsertChallenges(ctx context.Context, challenges []Challenge) error

	// Memberships returns the IDs of challenges the user joined.
	Memberships(ctx context.Context, userID shared.UserID) (map[string]struct{}, error)
	// Join fails with shared.ErrAlreadyExists when already joined.
	Join(ctx context.Context, challengeID string, userID shared.UserID) error
	// Leave is a no-op when the user is not a member.
	Leave(ctx context.Context, challengeID string, userID shared.UserID) error
}
