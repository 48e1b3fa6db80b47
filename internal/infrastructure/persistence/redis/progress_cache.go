package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/shared"
)

// setViewScript stores a view unless a newer version was already committed.
// KEYS[1] view key, KEYS[2] fence key, ARGV[1] payload, ARGV[2] view
// version, ARGV[3] ttl in ms.
var setViewScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < fence then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// fenceScript raises the fence to ARGV[1] and drops the cached view.
// KEYS as above, ARGV[2] fence ttl in ms.
var fenceScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > fence then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// ProgressCache implements query.ProgressCache on top of Cache. Every
// committed write raises a per-user version fence, and views rendered from
// an older version are never stored.
type ProgressCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewProgressCache creates a new ProgressCache. A non-positive ttl selects
// TTLProgressView.
func NewProgressCache(cache *Cache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgressView
	}
	return &ProgressCache{cache: cache, ttl: ttl}
}

// GetProgress returns the cached view or ErrCacheMiss.
func (p *ProgressCache) GetProgress(ctx context.Context, userID shared.UserID) (*query.ProgressView, error) {
	var view query.ProgressView
	if err := p.cache.Get(ctx, ProgressKey(userID.String()), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// SetProgress stores a rendered view. A view older than the user's fence is
// dropped silently.
func (p *ProgressCache) SetProgress(ctx context.Context, view *query.ProgressView) error {
	if view == nil {
		return ErrCacheNilValue
	}
	if view.UserID == "" {
		return ErrCacheKeyEmpty
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	keys := []string{ProgressKey(view.UserID), ProgressFenceKey(view.UserID)}
	return setViewScript.Run(ctx, p.cache.Client(), keys,
		data, strconv.FormatInt(view.Version, 10), p.ttl.Milliseconds()).Err()
}

// InvalidateProgressAt drops a user's view and refuses views rendered from a
// version below the committed one. The fence lives as long as a view would.
func (p *ProgressCache) InvalidateProgressAt(ctx context.Context, userID shared.UserID, version int64) error {
	keys := []string{ProgressKey(userID.String()), ProgressFenceKey(userID.String())}
	return fenceScript.Run(ctx, p.cache.Client(), keys,
		strconv.FormatInt(version, 10), p.ttl.Milliseconds()).Err()
}

// InvalidateProgress drops a user's view.
func (p *ProgressCache) InvalidateProgress(ctx context.Context, userID shared.UserID) error {
	return p.cache.Delete(ctx, ProgressKey(userID.String()))
}

// InvalidateAll clears every cached view, e.g. after a catalog reseed.
func (p *ProgressCache) InvalidateAll(ctx context.Context) error {
	if err := p.cache.DeleteByPattern(ctx, PrefixProgress+"*"); err != nil {
		return err
	}
	return p.cache.DeleteByPattern(ctx, PrefixProgressFence+"*")
}
