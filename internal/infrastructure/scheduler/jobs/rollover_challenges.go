package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/followme/followme-hub/internal/infrastructure/catalog"
)

// Roller re-dates recurring challenges whose window has ended.
type Roller interface {
	Rollover(ctx context.Context, c *catalog.Catalog) (int, error)
}

// RolloverChallengesJob moves windowed challenges (weekly, weekend, next N
// days) forward once their current window has ended.
type RolloverChallengesJob struct {
	roller  Roller
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewRolloverChallengesJob creates the job.
func NewRolloverChallengesJob(roller Roller, c *catalog.Catalog, logger *slog.Logger) *RolloverChallengesJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloverChallengesJob{
		roller:  roller,
		catalog: c,
		logger:  logger.With("job", "rollover_challenges"),
	}
}

// Name implements scheduler.Job.
func (j *RolloverChallengesJob) Name() string { return "rollover_challenges" }

// Run implements scheduler.Job.
func (j *RolloverChallengesJob) Run(ctx context.Context) error {
	n, err := j.roller.Rollover(ctx, j.catalog)
	if err != nil {
		return fmt.Errorf("rollover challenges: %w", err)
	}
	if n > 0 {
		j.logger.Info("challenges rolled over", "count", n)
	}
	return nil
}
