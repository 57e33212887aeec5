package stores

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld    = errors.New("operation already in flight")
	ErrLockBackend = errors.New("lock backend unavailable")
)

var releaseLockLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendLockLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LockStore provides per-session mutual exclusion for mutating workflow
// operations. A lock expires on its own after its TTL so a crashed holder
// cannot wedge a session.
type LockStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewLockStore(redisClient redis.UniversalClient, prefix string) *LockStore {
	if prefix == "" {
		prefix = "efk"
	}
	return &LockStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *LockStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Acquire takes the lock for sessionID and returns the token needed to
// release it. ErrLockHeld means another holder is active.
func (s *LockStore) Acquire(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])

	ok, err := s.redis.SetNX(ctx, s.key(sessionID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLockBackend, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release frees the lock if token still owns it. It reports whether the
// lock was released.
func (s *LockStore) Release(ctx context.Context, sessionID, token string) (bool, error) {
	n, err := releaseLockLua.Run(ctx, s.redis, []string{s.key(sessionID)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockBackend, err)
	}
	return n == 1, nil
}

// Extend resets the TTL of the lock if token still owns it. It reports
// whether the lock is still held by token.
func (s *LockStore) Extend(ctx context.Context, sessionID, token string, ttl time.Duration) (bool, error) {
	n, err := extendLockLua.Run(ctx, s.redis, []string{s.key(sessionID)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockBackend, err)
	}
	return n == 1, nil
}

// Clear drops the lock regardless of owner.
func (s *LockStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockBackend, err)
	}
	return nil
}
