package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/paysched/lease"
)

// Compile-time interface check.
var _ lease.Store = (*Store)(nil)

// extendScript extends a lease only while its value is still the caller.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes a lease only while its value is still the caller.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements lease.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed lease store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// AcquireLease takes the named lease with SET NX, or extends it when
// holder already has it.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	key := leaseKey(name)

	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("paysched/redis: acquire lease setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	n, err := extendScript.Run(ctx, s.client, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("paysched/redis: acquire lease extend: %w", err)
	}
	if n == 1 {
		s.logger.Debug("lease extended", slog.String("lease", name), slog.String("holder", holder))
	}
	return n == 1, nil
}

// ReleaseLease frees the named lease if holder still has it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, holder).Err(); err != nil {
		return fmt.Errorf("paysched/redis: release lease: %w", err)
	}
	return nil
}
