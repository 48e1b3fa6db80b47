package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/progression"
)

// Seeder writes a catalog into storage. Upserts make seeding idempotent, so
// it runs on every start.
type Seeder struct {
	catalog    progression.CatalogWriter
	challenges challenge.Repository
	logger     *slog.Logger
	now        func() time.Time
}

// NewSeeder creates a new Seeder. challenges may be nil to skip them.
func NewSeeder(catalog progression.CatalogWriter, challenges challenge.Repository, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		catalog:    catalog,
		challenges: challenges,
		logger:     logger.With("component", "catalog_seeder"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Seed upserts destinations, achievements and, unless a challenge with the
// same id already exists, the challenges. Existing challenges keep their
// dates so relative windows do not move on restart.
func (s *Seeder) Seed(ctx context.Context, c *Catalog) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.catalog.UpsertDestinations(ctx, c.Destinations); err != nil {
		return fmt.Errorf("seed destinations: %w", err)
	}
	if err := s.catalog.UpsertAchievements(ctx, c.Achievements); err != nil {
		return fmt.Errorf("seed achievements: %w", err)
	}

	seeded := 0
	if s.challenges != nil && len(c.Challenges) > 0 {
		existing, err := s.challenges.ListChallenges(ctx)
		if err != nil {
			return fmt.Errorf("list challenges: %w", err)
		}
		known := make(map[string]struct{}, len(existing))
		for _, ch := range existing {
			known[ch.ID] = struct{}{}
		}

		resolved, err := c.ResolveChallenges(s.now())
		if err != nil {
			return err
		}
		fresh := make([]challenge.Challenge, 0, len(resolved))
		for _, ch := range resolved {
			if _, ok := known[ch.ID]; !ok {
				fresh = append(fresh, ch)
			}
		}
		if len(fresh) > 0 {
			if err := s.challenges.UpsertChallenges(ctx, fresh); err != nil {
				return fmt.Errorf("seed challenges: %w", err)
			}
		}
		seeded = len(fresh)
	}

	s.logger.Info("catalog seeded",
		"destinations", len(c.Destinations),
		"achievements", len(c.Achievements),
		"new_challenges", seeded,
	)
	return nil
}

// Rollover re-dates windowed challenges whose window has ended, so recurring
// challenges such as next_weekend come back for the next period. Fixed-date
// challenges are left alone. Members stay joined across periods. It returns
// the number of challenges re-dated.
func (s *Seeder) Rollover(ctx context.Context, c *Catalog) (int, error) {
	if s.challenges == nil {
		return 0, nil
	}
	existing, err := s.challenges.ListChallenges(ctx)
	if err != nil {
		return 0, fmt.Errorf("list challenges: %w", err)
	}
	stored := make(map[string]challenge.Challenge, len(existing))
	for _, ch := range existing {
		stored[ch.ID] = ch
	}

	now := s.now()
	var renewed []challenge.Challenge
	for _, spec := range c.Challenges {
		if spec.Window == "" || spec.StartDate != "" || spec.EndDate != "" {
			continue
		}
		current, ok := stored[spec.ID]
		if ok && current.StatusAt(now) != challenge.StatusEnded {
			continue
		}
		next, err := spec.Resolve(now)
		if err != nil {
			return 0, err
		}
		renewed = append(renewed, next)
	}
	if len(renewed) == 0 {
		return 0, nil
	}
	if err := s.challenges.UpsertChallenges(ctx, renewed); err != nil {
		return 0, fmt.Errorf("roll over challenges: %w", err)
	}
	for _, ch := range renewed {
		s.logger.Info("challenge rolled over",
			"challenge_id", ch.ID,
			"start", ch.StartDate.Format(time.DateOnly),
			"end", ch.EndDate.Format(time.DateOnly),
		)
	}
	return len(renewed), nil
}
