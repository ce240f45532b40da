// Package quota enforces the per-user rolling-window request ceiling.
//
// Counters live outside the process (Redis, with a Postgres fallback) so
// the limit holds across restarts and horizontally scaled instances. Both
// stores increment and check in a single atomic step.
package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/internal/shared/database"
	"github.com/sgconsulting/inference-gateway/internal/shared/redis"
)

// Store is an atomic increment-and-window counter keyed by user.
type Store interface {
	// Incr bumps the user's counter, starting a fresh window when the
	// previous one has elapsed, and returns the post-increment count and
	// the window's expiry.
	Incr(ctx context.Context, userID string, window time.Duration) (int64, time.Time, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	ResetAt   time.Time
}

// Limiter applies the ceiling on top of a primary store with an optional
// fallback. Store errors fail open: an unreachable counter store should
// degrade the quota, not take the product down.
type Limiter struct {
	primary  Store
	fallback Store
	ceiling  int
	window   time.Duration
	logger   *zap.Logger
}

func NewLimiter(primary, fallback Store, ceiling int, window time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		primary:  primary,
		fallback: fallback,
		ceiling:  ceiling,
		window:   window,
		logger:   logger,
	}
}

// Allow records one attempt for userID and reports whether it is within
// the ceiling. The counter is incremented even when the answer is no; the
// guarded resource is the number of forwarded requests, which the
// post-increment comparison keeps at or below the ceiling.
func (l *Limiter) Allow(ctx context.Context, userID string) Decision {
	count, resetAt, err := l.primary.Incr(ctx, userID, l.window)
	if err != nil {
		l.logger.Warn("primary quota store unavailable",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		if l.fallback == nil {
			return l.failOpen(userID, err)
		}
		count, resetAt, err = l.fallback.Incr(ctx, userID, l.window)
		if err != nil {
			return l.failOpen(userID, err)
		}
	}

	used := int(count)
	remaining := l.ceiling - used
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   used <= l.ceiling,
		Used:      used,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Ceiling returns the configured per-window request ceiling.
func (l *Limiter) Ceiling() int {
	return l.ceiling
}

func (l *Limiter) failOpen(userID string, err error) Decision {
	l.logger.Warn("quota check failed open",
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return Decision{Allowed: true, Remaining: l.ceiling, ResetAt: time.Now().Add(l.window)}
}

// RedisStore counts in Redis via a single INCR with an expiry-anchored window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, userID string, window time.Duration) (int64, time.Time, error) {
	return s.client.IncrWithWindow(ctx, "quota:"+userID, window)
}

// PostgresStore counts in the usage_records table via a conditional
// reset-and-increment UPDATE. Slower than Redis but durable, and it keeps
// the quota correct for deployments that run without Redis.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Incr(ctx context.Context, userID string, window time.Duration) (int64, time.Time, error) {
	rec, err := s.db.IncrementUsage(ctx, userID, window)
	if err != nil {
		return 0, time.Time{}, err
	}
	return int64(rec.UsedCount), rec.LastReset.Add(window), nil
}
