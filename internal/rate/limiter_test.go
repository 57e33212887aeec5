package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterTest(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestChallengeBudgetPerSession(t *testing.T) {
	l, mr := newLimiterTest(t, Config{MaxChallengeSends: 2, ChallengeCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckChallenge(ctx, "sid", ""); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.IncrementChallenge(ctx, "sid", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.CheckChallenge(ctx, "sid", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if err := l.CheckChallenge(ctx, "other", ""); err != nil {
		t.Fatalf("other session must not be limited: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckChallenge(ctx, "sid", ""); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestChallengeBudgetPerIP(t *testing.T) {
	l, _ := newLimiterTest(t, Config{EnableIPThrottle: true, MaxChallengeSends: 1, ChallengeCooldown: time.Minute})
	ctx := context.Background()

	if err := l.IncrementChallenge(ctx, "a", "10.0.0.1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := l.CheckChallenge(ctx, "b", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip limit across sessions, got %v", err)
	}
}

func TestResetSessionAndDisabledLimiter(t *testing.T) {
	l, _ := newLimiterTest(t, Config{MaxChallengeSends: 1, ChallengeCooldown: time.Minute})
	ctx := context.Background()

	_ = l.IncrementChallenge(ctx, "sid", "")
	if err := l.ResetSession(ctx, "sid"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckChallenge(ctx, "sid", ""); err != nil {
		t.Fatalf("expected budget restored, got %v", err)
	}

	off, _ := newLimiterTest(t, Config{})
	for i := 0; i < 5; i++ {
		if err := off.IncrementChallenge(ctx, "sid", ""); err != nil {
			t.Fatalf("disabled limiter returned %v", err)
		}
	}
}
