package syncutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/remoteprojobs/wallet/internal/idgen"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker is a Locker backed by SET NX PX. The TTL bounds how long a
// crashed holder can block others; it must exceed the longest critical
// section (one database transaction).
type RedisLocker struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithRetryWait sets the poll interval while waiting for a held lock.
func WithRetryWait(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.retryWait = d }
}

// WithLockLogger sets the logger used for release failures.
func WithLockLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLocker) { l.logger = logger }
}

// NewRedisLocker creates a Redis-backed Locker. Keys are stored as
// "<prefix>:<key>"; a trailing colon on prefix is dropped.
func NewRedisLocker(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, ":"),
		ttl:       10 * time.Second,
		retryWait: 25 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.redisKey(key)
	token := idgen.Hex(16)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		t := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}
}

func (l *RedisLocker) redisKey(key string) string {
	return l.prefix + ":" + key
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Release must run even if the caller's context is already cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			l.logger.Warn("redis lock release failed", "key", redisKey, "error", err)
			return
		}
		if n == 0 {
			l.logger.Warn("redis lock expired before release", "key", redisKey)
		}
	}
}

// Ping checks Redis connectivity for health reporting.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ Locker = (*RedisLocker)(nil)
