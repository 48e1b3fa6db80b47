// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ MODEL PORTS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache stores rendered progress views. Any error from GetProgress is
// treated as a miss.
type ProgressCache interface {
	GetProgress(ctx context.Context, userID shared.UserID) (*ProgressView, error)
	SetProgress(ctx context.Context, view *ProgressView) error
	InvalidateProgress(ctx context.Context, userID shared.UserID) error
}

// DistanceBoard ranks all users by cumulative weighted distance.
type DistanceBoard interface {
	// Rank returns the 1-based global rank and the number of ranked users.
	// Unranked users get rank 0.
	Rank(ctx context.Context, userID shared.UserID) (rank int64, total int64, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AchievementDTO is an earned achievement.
type AchievementDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProgressView is the dashboard representation of a user's progression.
type ProgressView struct {
	UserID       string  `json:"user_id"`
	CumulativeKm float64 `json:"cumulative_km"`
	Points       int64   `json:"points"`
	Level        int     `json:"level"`

	// NextLevelPoints is the point total where the next level starts.
	NextLevelPoints   int64 `json:"next_level_points"`
	PointsToNextLevel int64 `json:"points_to_next_level"`

	CurrentOrder      int                 `json:"current_order"`
	Position          route.Position      `json:"position"`
	Unlocked          []route.Destination `json:"unlocked"`
	TotalDestinations int                 `json:"total_destinations"`
	Achievements      []AchievementDTO    `json:"achievements"`
	EntryCount        int                 `json:"entry_count"`
	UpdatedAt         time.Time           `json:"updated_at"`

	// Version is the stored progress version the view was rendered from.
	Version int64 `json:"version"`
}

// catalogEngine builds a progression engine over the stored catalogs.
func catalogEngine(ctx context.Context, repo progression.Repository, cfg progression.EngineConfig) (*progression.Engine, error) {
	destinations, err := repo.LoadDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load destinations: %w", err)
	}
	achievements, err := repo.LoadAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	return progression.NewEngine(cfg, destinations, achievements)
}

// unlockedDestinations resolves unlocked orders against the route, ascending.
func unlockedDestinations(r *route.Route, p *progression.UserProgress) []route.Destination {
	out := make([]route.Destination, 0, len(p.Unlocked))
	for _, order := range p.UnlockedOrders() {
		if d, ok := r.Get(order); ok {
			out = append(out, d)
		}
	}
	return out
}

// newProgressView renders progress against the engine's catalogs.
func newProgressView(engine *progression.Engine, p *progression.UserProgress) *ProgressView {
	curve := engine.Curve()
	next := curve.NextTarget(p.Points)

	achievements := make([]AchievementDTO, 0, len(p.Achievements))
	for _, a := range engine.Achievements().Catalog() {
		if p.HasAchievement(a.ID) {
			achievements = append(achievements, toAchievementDTO(a))
		}
	}

	return &ProgressView{
		UserID:            p.UserID.String(),
		CumulativeKm:      p.CumulativeKm,
		Points:            p.Points,
		Level:             p.Level,
		NextLevelPoints:   next,
		PointsToNextLevel: next - p.Points,
		CurrentOrder:      p.CurrentOrder,
		Position:          engine.Tracker().PositionOf(p.CumulativeKm, p.CurrentOrder),
		Unlocked:          unlockedDestinations(engine.Route(), p),
		TotalDestinations: engine.Route().Len(),
		Achievements:      achievements,
		EntryCount:        p.EntryCount,
		UpdatedAt:         p.UpdatedAt,
		Version:           p.Version,
	}
}

func toAchievementDTO(a achievement.Achievement) AchievementDTO {
	return AchievementDTO{ID: a.ID, Name: a.Name, Description: a.Description}
}
