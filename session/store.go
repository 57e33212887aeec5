package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the backing Redis cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when no session exists for an ID.
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

// ErrConflict is returned by Update when concurrent writers exhausted the
// retry budget.
var ErrConflict = errors.New("session update conflict")

const maxUpdateRetries = 4

// Store is a Redis-backed session store. Each session lives under a single
// key holding its binary encoding and expires after ttl of inactivity when
// sliding is enabled, or ttl after the last write otherwise.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	sliding bool

	cache *lru.LRU[string, *Session]
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(redis redis.UniversalClient, prefix string, ttl time.Duration, sliding bool) *Store {
	if prefix == "" {
		prefix = "efs"
	}
	return &Store{
		redis:   redis,
		prefix:  prefix,
		ttl:     ttl,
		sliding: sliding,
	}
}

// EnableCache turns on a process-local read cache of decoded sessions.
// Entries are replaced on every write through this Store, so the cache is
// only coherent when one process serves a given session.
func (s *Store) EnableCache(size int, ttl time.Duration) {
	if size <= 0 {
		return
	}
	s.cache = lru.NewLRU[string, *Session](size, nil, ttl)
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Save validates and persists sess.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id required")
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	s.remember(sess)
	return nil
}

// Get returns the session for sessionID. The returned value is a private
// copy the caller may mutate.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(sessionID); ok {
			return cached.Clone(), nil
		}
	}

	key := s.key(sessionID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess.ID = sessionID

	if s.sliding && s.ttl > 0 {
		if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	s.remember(sess)
	return sess, nil
}

// Update applies fn to the stored session inside an optimistic
// transaction and persists the result. fn may be invoked more than once.
func (s *Store) Update(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error) {
	key := s.key(sessionID)

	for i := 0; i < maxUpdateRetries; i++ {
		var (
			updated *Session
			fnErr   error
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			sess, err := Decode(data)
			if err != nil {
				fnErr = fmt.Errorf("%w: %v", ErrCorrupt, err)
				return fnErr
			}
			sess.ID = sessionID

			if err := fn(sess); err != nil {
				fnErr = err
				return err
			}
			if err := sess.Validate(); err != nil {
				fnErr = err
				return err
			}
			encoded, err := Encode(sess)
			if err != nil {
				fnErr = err
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		s.remember(updated)
		return updated.Clone(), nil
	}

	return nil, ErrConflict
}

// Delete removes the session. It reports whether a session existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if s.cache != nil {
		s.cache.Remove(sessionID)
	}
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) remember(sess *Session) {
	if s.cache == nil || sess == nil {
		return
	}
	s.cache.Add(sess.ID, sess.Clone())
}
