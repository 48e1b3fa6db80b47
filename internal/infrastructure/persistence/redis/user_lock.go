package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/pkg/retry"
)

var errLockBusy = errors.New("lock: held by another owner")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// UserLock is a distributed Locker built on SET NX PX. Holders are
// identified by a random token so a lock that expired and was taken over
// is never released by its previous owner.
type UserLock struct {
	cache   *Cache
	ttl     time.Duration
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewUserLock creates a UserLock. Acquisition polls until ctx is done or
// maxWait elapses.
func NewUserLock(cache *Cache, ttl, maxWait time.Duration, logger *slog.Logger) *UserLock {
	if ttl <= 0 {
		ttl = TTLUserLock
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	const poll = 25 * time.Millisecond
	return &UserLock{
		cache: cache,
		ttl:   ttl,
		retrier: retry.New(
			retry.WithMaxAttempts(int(maxWait/poll)+1),
			retry.WithInitialDelay(poll),
			retry.WithMaxDelay(poll*4),
			retry.WithJitter(0.2),
			retry.WithRetryIf(func(err error) bool { return errors.Is(err, errLockBusy) }),
		),
		logger: logger.With("component", "user_lock"),
	}
}

// Lock implements command.Locker.
func (l *UserLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := LockKey(key)
	token := uuid.NewString()

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		ok, err := l.cache.Client().SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockBusy) {
			return nil, shared.WrapError("progression", "Lock", shared.ErrLockTimeout,
				fmt.Sprintf("user %s is locked", key), err)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.cache.Client(), []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}
