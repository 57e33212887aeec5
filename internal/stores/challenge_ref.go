package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeRefConsumed = errors.New("challenge ref consumed or unknown")
	ErrChallengeRefBackend  = errors.New("challenge ref backend unavailable")
)

// ChallengeRefStore tracks issued MFA challenge references so each can be
// submitted for verification at most once. Keys are derived from a hash
// of the ref; the value is the owning session ID.
type ChallengeRefStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeRefStore(redisClient redis.UniversalClient, prefix string) *ChallengeRefStore {
	if prefix == "" {
		prefix = "efc"
	}
	return &ChallengeRefStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeRefStore) key(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}

// Issue records ref as owned by sessionID.
func (s *ChallengeRefStore) Issue(ctx context.Context, sessionID, ref string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(ref), sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRefBackend, err)
	}
	return nil
}

// Consume removes ref and reports success only if it was still issued to
// sessionID. A ref owned by another session is consumed as well.
func (s *ChallengeRefStore) Consume(ctx context.Context, sessionID, ref string) error {
	owner, err := s.redis.GetDel(ctx, s.key(ref)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrChallengeRefConsumed
		}
		return fmt.Errorf("%w: %v", ErrChallengeRefBackend, err)
	}
	if subtle.ConstantTimeCompare([]byte(owner), []byte(sessionID)) != 1 {
		return ErrChallengeRefConsumed
	}
	return nil
}

// Discard drops ref without checking ownership.
func (s *ChallengeRefStore) Discard(ctx context.Context, ref string) error {
	if err := s.redis.Del(ctx, s.key(ref)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRefBackend, err)
	}
	return nil
}
