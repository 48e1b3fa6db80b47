package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
)

var (
	// ErrUserNotOnBoard is returned when a user has no board entry.
	ErrUserNotOnBoard = errors.New("distance_board: user not on board")

	// ErrInvalidCount is returned for non-positive page sizes.
	ErrInvalidCount = errors.New("distance_board: count must be positive")
)

// BoardEntry is one ranked user.
type BoardEntry struct {
	UserID       string    `json:"user_id"`
	CumulativeKm float64   `json:"cumulative_km"`
	Points       int64     `json:"points"`
	Level        int       `json:"level"`
	Rank         int64     `json:"rank"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DistanceBoard ranks users by cumulative weighted km using Redis Sorted Sets.
//
// Architecture:
//   - Sorted Set "board:km" stores userID -> cumulative km
//   - Hash "board:info" stores userID -> BoardEntry JSON
//
// Rank lookups are O(log N) and top-N reads O(log N + M).
type DistanceBoard struct {
	cache *Cache
}

const (
	keyBoardKm   = PrefixBoard + "km"
	keyBoardInfo = PrefixBoard + "info"
)

// NewDistanceBoard creates a new DistanceBoard.
func NewDistanceBoard(cache *Cache) *DistanceBoard {
	return &DistanceBoard{cache: cache}
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateEntry upserts a single user.
func (b *DistanceBoard) UpdateEntry(ctx context.Context, entry BoardEntry) error {
	if entry.UserID == "" {
		return shared.ErrEmptyUserID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := b.cache.Client().TxPipeline()
	pipe.ZAdd(ctx, keyBoardKm, redis.Z{Score: entry.CumulativeKm, Member: entry.UserID})
	pipe.HSet(ctx, keyBoardInfo, entry.UserID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Record implements eventhandler.BoardRecorder.
func (b *DistanceBoard) Record(ctx context.Context, snapshot progression.ProgressUpdated) error {
	return b.UpdateEntry(ctx, BoardEntry{
		UserID:       snapshot.UserID.String(),
		CumulativeKm: snapshot.CumulativeKm,
		Points:       snapshot.Points,
		Level:        snapshot.Level,
		UpdatedAt:    snapshot.OccurredAt(),
	})
}

// Rebuild replaces the whole board, e.g. on startup from the database.
func (b *DistanceBoard) Rebuild(ctx context.Context, entries []BoardEntry) error {
	pipe := b.cache.Client().TxPipeline()
	pipe.Del(ctx, keyBoardKm, keyBoardInfo)

	zMembers := make([]redis.Z, 0, len(entries))
	hashData := make(map[string]interface{}, len(entries))
	for _, entry := range entries {
		if entry.UserID == "" {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		zMembers = append(zMembers, redis.Z{Score: entry.CumulativeKm, Member: entry.UserID})
		hashData[entry.UserID] = data
	}
	if len(zMembers) > 0 {
		pipe.ZAdd(ctx, keyBoardKm, zMembers...)
		pipe.HSet(ctx, keyBoardInfo, hashData)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Replace rebuilds the board from stored standings.
func (b *DistanceBoard) Replace(ctx context.Context, standings []progression.Standing) error {
	entries := make([]BoardEntry, 0, len(standings))
	for _, st := range standings {
		entries = append(entries, BoardEntry{
			UserID:       st.UserID.String(),
			CumulativeKm: st.CumulativeKm,
			Points:       st.Points,
			Level:        st.Level,
			UpdatedAt:    st.UpdatedAt,
		})
	}
	return b.Rebuild(ctx, entries)
}

// RemoveEntry drops a user from the board.
func (b *DistanceBoard) RemoveEntry(ctx context.Context, userID shared.UserID) error {
	pipe := b.cache.Client().TxPipeline()
	pipe.ZRem(ctx, keyBoardKm, userID.String())
	pipe.HDel(ctx, keyBoardInfo, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Rank implements query.DistanceBoard. Unranked users get rank 0.
func (b *DistanceBoard) Rank(ctx context.Context, userID shared.UserID) (int64, int64, error) {
	total, err := b.cache.Client().ZCard(ctx, keyBoardKm).Result()
	if err != nil {
		return 0, 0, err
	}

	// ZRevRank is 0-based with the highest score first.
	rank, err := b.cache.Client().ZRevRank(ctx, keyBoardKm, userID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, total, nil
		}
		return 0, 0, err
	}
	return rank + 1, total, nil
}

// GetTop returns the first count users by distance.
func (b *DistanceBoard) GetTop(ctx context.Context, count int) ([]BoardEntry, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}

	ids, err := b.cache.Client().ZRevRange(ctx, keyBoardKm, 0, int64(count-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []BoardEntry{}, nil
	}

	raw, err := b.cache.Client().HMGet(ctx, keyBoardInfo, ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]BoardEntry, 0, len(ids))
	for i, id := range ids {
		entry := BoardEntry{UserID: id}
		if s, ok := raw[i].(string); ok {
			if err := json.Unmarshal([]byte(s), &entry); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
		}
		entry.Rank = int64(i + 1)
		out = append(out, entry)
	}
	return out, nil
}

// GetEntry returns a user's entry with its current rank.
func (b *DistanceBoard) GetEntry(ctx context.Context, userID shared.UserID) (*BoardEntry, error) {
	data, err := b.cache.Client().HGet(ctx, keyBoardInfo, userID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotOnBoard
		}
		return nil, err
	}

	var entry BoardEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	if entry.Rank, _, err = b.Rank(ctx, userID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Count returns the number of ranked users.
func (b *DistanceBoard) Count(ctx context.Context) (int64, error) {
	return b.cache.Client().ZCard(ctx, keyBoardKm).Result()
}
