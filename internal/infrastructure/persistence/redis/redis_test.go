package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheFromClient(client), mr
}

func TestCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var got map[string]int
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, 1, got["a"])

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)

	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)

	require.NoError(t, c.Set(ctx, "progress:a", 1, 0))
	require.NoError(t, c.Set(ctx, "progress:b", 1, 0))
	require.NoError(t, c.DeleteByPattern(ctx, "progress:*"))
	ok, err := c.Exists(ctx, "progress:a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProgressCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	pc := NewProgressCache(c, time.Minute)

	_, err := pc.GetProgress(ctx, "u1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	view := &query.ProgressView{UserID: "u1", CumulativeKm: 30, Points: 400, Level: 2, NextLevelPoints: 500}
	require.NoError(t, pc.SetProgress(ctx, view))
	assert.True(t, mr.Exists("progress:u1"))

	got, err := pc.GetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.Points)
	assert.Equal(t, int64(500), got.NextLevelPoints)

	require.NoError(t, pc.InvalidateProgress(ctx, "u1"))
	_, err = pc.GetProgress(ctx, "u1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDistanceBoard(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	b := NewDistanceBoard(c)

	rank, total, err := b.Rank(ctx, "me")
	require.NoError(t, err)
	assert.Zero(t, rank)
	assert.Zero(t, total)

	require.NoError(t, b.Rebuild(ctx, []BoardEntry{
		{UserID: "ann", CumulativeKm: 120, Points: 1300, Level: 4},
		{UserID: "bob", CumulativeKm: 12},
	}))
	require.NoError(t, b.UpdateEntry(ctx, BoardEntry{UserID: "me", CumulativeKm: 30, Points: 400, Level: 2}))

	rank, total, err = b.Rank(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)
	assert.Equal(t, int64(3), total)

	top, err := b.GetTop(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "ann", top[0].UserID)
	assert.Equal(t, 4, top[0].Level)
	assert.Equal(t, int64(2), top[1].Rank)

	entry, err := b.GetEntry(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Rank)

	require.NoError(t, b.RemoveEntry(ctx, "bob"))
	_, err = b.GetEntry(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotOnBoard)
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = b.GetTop(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
	assert.ErrorIs(t, b.UpdateEntry(ctx, BoardEntry{}), shared.ErrEmptyUserID)
}

func TestUserLock_ExcludesSecondHolder(t *testing.T) {
	c, mr := newTestCache(t)
	lock := NewUserLock(c, time.Minute, 100*time.Millisecond, nil)

	unlock, err := lock.Lock(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:u1"))

	_, err = lock.Lock(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.True(t, shared.IsRetryable(err))

	other, err := lock.Lock(context.Background(), "u2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:u1"))

	again, err := lock.Lock(context.Background(), "u1")
	require.NoError(t, err)
	again()
}

func TestUserLock_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	c, mr := newTestCache(t)
	lock := NewUserLock(c, time.Second, 100*time.Millisecond, nil)

	stale, err := lock.Lock(context.Background(), "u1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := lock.Lock(context.Background(), "u1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("lock:u1"), "new owner keeps the lock")
	fresh()
	assert.False(t, mr.Exists("lock:u1"))
}

func TestUserLock_SerializesWriters(t *testing.T) {
	c, _ := newTestCache(t)
	lock := NewUserLock(c, time.Minute, 5*time.Second, nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lock.Lock(context.Background(), "u1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestDistanceBoard_RecordSnapshot(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	b := NewDistanceBoard(c)

	p := progression.NewUserProgress("u1", progression.StartLevel)
	p.CumulativeKm = 30
	p.Points = 400
	p.Level = 2
	at := time.Date(2025, 4, 7, 6, 0, 0, 0, time.UTC)

	require.NoError(t, b.Record(ctx, progression.NewProgressUpdated(p, false, at)))

	entry, err := b.GetEntry(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 30, entry.CumulativeKm, 1e-9)
	assert.Equal(t, int64(400), entry.Points)
	assert.True(t, entry.UpdatedAt.Equal(at))
	assert.Equal(t, int64(1), entry.Rank)
}

func TestDistanceBoard_Replace(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	b := NewDistanceBoard(c)

	require.NoError(t, b.UpdateEntry(ctx, BoardEntry{UserID: "gone", CumulativeKm: 500}))
	require.NoError(t, b.Replace(ctx, []progression.Standing{
		{UserID: "a", CumulativeKm: 40, Points: 550, Level: 3},
		{UserID: "b", CumulativeKm: 12, Points: 170, Level: 2},
	}))

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rank, _, err := b.Rank(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)
	rank, _, err = b.Rank(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, rank)
}
