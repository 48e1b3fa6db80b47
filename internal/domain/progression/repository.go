package progression

import (
	"context"
	"time"

	"github.com/followme/followme-hub/internal/domain/achievement"
	"github.com/followme/followme-hub/internal/domain/route"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
)

// Repository defines the storage contract the progression core depends on.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// LoadProgress returns the user's progress or an error of kind
	// shared.ErrNotFound when the user has none yet.
	LoadProgress(ctx context.Context, userID shared.UserID) (*UserProgress, error)

	// SaveProgress atomically upserts progress with its unlocked
	// destinations and achievements. It fails with
	// shared.ErrConcurrentModification when p.Version is stale, and bumps
	// p.Version on success.
	SaveProgress(ctx context.Context, p *UserProgress) error

	// LoadEntries returns the user's entries ordered by timestamp.
	LoadEntries(ctx context.Context, userID shared.UserID) ([]training.TrainingEntry, error)

	// LoadDestinations returns the route ordered by destination order.
	LoadDestinations(ctx context.Context) ([]route.Destination, error)

	// LoadAchievements returns the achievement catalog.
	LoadAchievements(ctx context.Context) ([]achievement.Achievement, error)
}

// Store is the transaction-scoped view used by the coordinator: progression
// state plus the session log.
type Store interface {
	Repository
	training.EntryStore
}

// UnitOfWork runs fn inside one transaction. Nothing fn wrote is visible to
// other readers unless fn returns nil.
type UnitOfWork interface {
	Store
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// CatalogWriter seeds static reference data.
type CatalogWriter interface {
	// UpsertDestinations stores destinations keyed by order.
	UpsertDestinations(ctx context.Context, destinations []route.Destination) error

	// UpsertAchievements stores achievements keyed by id.
	UpsertAchievements(ctx context.Context, achievements []achievement.Achievement) error
}

// Standing is the ranking-relevant slice of one user's progress.
type Standing struct {
	UserID       shared.UserID
	CumulativeKm float64
	Points       int64
	Level        int
	UpdatedAt    time.Time
}

// StandingsReader lists the standing of every user with progress, highest
// distance first.
type StandingsReader interface {
	ListStandings(ctx context.Context) ([]Standing, error)
}
