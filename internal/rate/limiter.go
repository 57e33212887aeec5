package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle  bool
	MaxChallengeSends int
	ChallengeCooldown time.Duration
}

// Limiter enforces per-session and per-IP budgets for MFA challenge sends
// using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckChallenge reports whether the session and IP may request another
// challenge without consuming budget. An empty sessionID skips the
// per-session counter.
func (l *Limiter) CheckChallenge(ctx context.Context, sessionID, ip string) error {
	if l.config.MaxChallengeSends <= 0 {
		return nil
	}
	if sessionID != "" {
		if err := l.checkCounter(ctx, challengeSessionKey(sessionID), l.config.MaxChallengeSends); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, challengeIPKey(ip), l.config.MaxChallengeSends); err != nil {
			return err
		}
	}
	return nil
}

// IncrementChallenge records one challenge send. It returns ErrRateLimited
// once the budget for the current window is exhausted.
func (l *Limiter) IncrementChallenge(ctx context.Context, sessionID, ip string) error {
	if l.config.MaxChallengeSends <= 0 {
		return nil
	}
	if sessionID != "" {
		count, err := l.incrementWithTTL(ctx, challengeSessionKey(sessionID), l.config.ChallengeCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxChallengeSends) {
			return ErrRateLimited
		}
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err := l.incrementWithTTL(ctx, challengeIPKey(ip), l.config.ChallengeCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxChallengeSends) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetSession clears the per-session counter. Called on logout.
func (l *Limiter) ResetSession(ctx context.Context, sessionID string) error {
	if err := l.redis.Del(ctx, challengeSessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func challengeSessionKey(sessionID string) string {
	return "efr:s:" + sessionID
}

func challengeIPKey(ip string) string {
	return "efr:i:" + ip
}
