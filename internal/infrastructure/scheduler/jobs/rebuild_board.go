// Package jobs contains the periodic maintenance jobs run by the scheduler.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/followme/followme-hub/internal/domain/progression"
)

// BoardWriter replaces the contents of a distance board.
type BoardWriter interface {
	Replace(ctx context.Context, standings []progression.Standing) error
}

// RebuildBoardStats describes the last rebuild.
type RebuildBoardStats struct {
	Users      int
	FinishedAt time.Time
	Duration   time.Duration
}

// RebuildBoardJob reloads every user's standing from storage and replaces
// the global distance board with it. Incremental board updates happen on
// every submission; this job repairs drift after cache loss or failed writes.
type RebuildBoardJob struct {
	standings progression.StandingsReader
	board     BoardWriter
	logger    *slog.Logger
	timeout   time.Duration

	last atomic.Pointer[RebuildBoardStats]
}

// NewRebuildBoardJob creates the job.
func NewRebuildBoardJob(standings progression.StandingsReader, board BoardWriter, timeout time.Duration, logger *slog.Logger) *RebuildBoardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RebuildBoardJob{
		standings: standings,
		board:     board,
		logger:    logger.With("job", "rebuild_board"),
		timeout:   timeout,
	}
}

// Name implements scheduler.Job.
func (j *RebuildBoardJob) Name() string { return "rebuild_board" }

// Run implements scheduler.Job.
func (j *RebuildBoardJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	standings, err := j.standings.ListStandings(ctx)
	if err != nil {
		return fmt.Errorf("list standings: %w", err)
	}
	if err := j.board.Replace(ctx, standings); err != nil {
		return fmt.Errorf("replace board: %w", err)
	}

	stats := &RebuildBoardStats{Users: len(standings), FinishedAt: time.Now()}
	stats.Duration = stats.FinishedAt.Sub(started)
	j.last.Store(stats)

	j.logger.Info("distance board rebuilt", "users", stats.Users, "duration", stats.Duration.String())
	return nil
}

// LastStats returns the stats of the last successful run, or nil.
func (j *RebuildBoardJob) LastStats() *RebuildBoardStats {
	return j.last.Load()
}
