package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/infrastructure/catalog"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/memory"
)

type recordingBoard struct {
	got []progression.Standing
	err error
}

func (b *recordingBoard) Replace(_ context.Context, standings []progression.Standing) error {
	b.got = standings
	return b.err
}

func TestRebuildBoardJob(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for id, km := range map[shared.UserID]float64{"a": 5, "b": 20} {
		p := progression.NewUserProgress(id, progression.StartLevel)
		p.CumulativeKm = km
		require.NoError(t, store.SaveProgress(ctx, p))
	}

	board := &recordingBoard{}
	job := NewRebuildBoardJob(store, board, time.Second, nil)
	assert.Nil(t, job.LastStats())

	require.NoError(t, job.Run(ctx))
	require.Len(t, board.got, 2)
	assert.Equal(t, shared.UserID("b"), board.got[0].UserID)
	require.NotNil(t, job.LastStats())
	assert.Equal(t, 2, job.LastStats().Users)

	board.err = errors.New("redis down")
	assert.Error(t, job.Run(ctx))
}

type stubRoller struct {
	n   int
	err error
	got *catalog.Catalog
}

func (r *stubRoller) Rollover(_ context.Context, c *catalog.Catalog) (int, error) {
	r.got = c
	return r.n, r.err
}

func TestRolloverChallengesJob(t *testing.T) {
	c := &catalog.Catalog{}
	roller := &stubRoller{n: 2}
	job := NewRolloverChallengesJob(roller, c, nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Same(t, c, roller.got)

	roller.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}
