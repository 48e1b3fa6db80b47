package progression

import (
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// ProgressionEvent is the transient union surfaced to the user after a
// submission: DestinationUnlocked, LevelUp or AchievementEarned.
type ProgressionEvent interface {
	shared.Event
	progressionEvent()
}

// DestinationUnlocked is emitted once per destination per user.
type DestinationUnlocked struct {
	shared.BaseEvent
	UserID      shared.UserID     `json:"user_id"`
	Destination route.Destination `json:"destination"`
}

// NewDestinationUnlocked creates a DestinationUnlocked event.
func NewDestinationUnlocked(userID shared.UserID, d route.Destination, at time.Time) DestinationUnlocked {
	return DestinationUnlocked{
		BaseEvent:   shared.NewBaseEvent(shared.EventDestinationUnlocked, userID.String(), at),
		UserID:      userID,
		Destination: d,
	}
}

// Payload implements shared.Event.
func (e DestinationUnlocked) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID.String(),
		"order":        e.Destination.Order,
		"name":         e.Destination.Name,
		"threshold_km": e.Destination.ThresholdKm,
	}
}

func (DestinationUnlocked) progressionEvent() {}

// LevelUp spans all levels crossed by one submission.
type LevelUp struct {
	shared.BaseEvent
	UserID    shared.UserID `json:"user_id"`
	FromLevel int           `json:"from_level"`
	ToLevel   int           `json:"to_level"`
}

// NewLevelUp creates a LevelUp event.
func NewLevelUp(userID shared.UserID, change LevelChange, at time.Time) LevelUp {
	return LevelUp{
		BaseEvent: shared.NewBaseEvent(shared.EventLevelUp, userID.String(), at),
		UserID:    userID,
		FromLevel: change.From,
		ToLevel:   change.To,
	}
}

// Payload implements shared.Event.
func (e LevelUp) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID.String(),
		"from_level": e.FromLevel,
		"to_level":   e.ToLevel,
	}
}

func (LevelUp) progressionEvent() {}

// AchievementEarned is emitted the first time an achievement's rule holds.
type AchievementEarned struct {
	shared.BaseEvent
	UserID      shared.UserID           `json:"user_id"`
	Achievement achievement.Achievement `json:"achievement"`
}

// NewAchievementEarned creates an AchievementEarned event.
func NewAchievementEarned(userID shared.UserID, a achievement.Achievement, at time.Time) AchievementEarned {
	return AchievementEarned{
		BaseEvent:   shared.NewBaseEvent(shared.EventAchievementEarned, userID.String(), at),
		UserID:      userID,
		Achievement: a,
	}
}

// Payload implements shared.Event.
func (e AchievementEarned) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID.String(),
		"achievement_id": e.Achievement.ID,
		"name":           e.Achievement.Name,
	}
}

func (AchievementEarned) progressionEvent() {}

// ProgressUpdated is an integration event for read models. It is published
// after every committed submit or recompute.
type ProgressUpdated struct {
	shared.BaseEvent
	UserID       shared.UserID `json:"user_id"`
	CumulativeKm float64       `json:"cumulative_km"`
	Points       int64         `json:"points"`
	Level        int           `json:"level"`
	Rebuilt      bool          `json:"rebuilt"`
}

// NewProgressUpdated snapshots a progress record.
func NewProgressUpdated(p *UserProgress, rebuilt bool, at time.Time) ProgressUpdated {
	typ := shared.EventProgressUpdated
	if rebuilt {
		typ = shared.EventProgressRebuilt
	}
	return ProgressUpdated{
		BaseEvent:    shared.NewBaseEvent(typ, p.UserID.String(), at),
		UserID:       p.UserID,
		CumulativeKm: p.CumulativeKm,
		Points:       p.Points,
		Level:        p.Level,
		Rebuilt:      rebuilt,
	}
}

// Payload implements shared.Event.
func (e ProgressUpdated) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID.String(),
		"cumulative_km": e.CumulativeKm,
		"points":        e.Points,
		"level":         e.Level,
		"rebuilt":       e.Rebuilt,
	}
}
