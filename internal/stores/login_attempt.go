package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginAttemptVersionV1 = 1
)

var (
	ErrLoginAttemptNotFound = errors.New("login attempt not found")
	ErrLoginAttemptBackend  = errors.New("login attempt backend unavailable")
)

// LoginAttempt is the PKCE material of an authorization request that has
// not yet returned.
type LoginAttempt struct {
	State       string
	Verifier    string
	RedirectURI string
	CreatedAt   int64
}

type LoginAttemptStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewLoginAttemptStore(redisClient redis.UniversalClient, prefix string) *LoginAttemptStore {
	if prefix == "" {
		prefix = "efl"
	}
	return &LoginAttemptStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *LoginAttemptStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Save stores the attempt for sessionID, replacing any earlier attempt.
func (s *LoginAttemptStore) Save(ctx context.Context, sessionID string, attempt *LoginAttempt, ttl time.Duration) error {
	encoded, err := encodeLoginAttempt(attempt)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginAttemptBackend, err)
	}
	return nil
}

// Take atomically reads and removes the attempt. An attempt can be taken
// once, whether or not the callback that follows succeeds.
func (s *LoginAttemptStore) Take(ctx context.Context, sessionID string) (*LoginAttempt, error) {
	data, err := s.redis.GetDel(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLoginAttemptNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrLoginAttemptBackend, err)
	}
	return decodeLoginAttempt(data)
}

func (s *LoginAttemptStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLoginAttemptBackend, err)
	}
	return n > 0, nil
}

func encodeLoginAttempt(a *LoginAttempt) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginAttemptVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, a.CreatedAt); err != nil {
		return nil, err
	}
	for _, v := range []string{a.State, a.Verifier, a.RedirectURI} {
		if len(v) > 65535 {
			return nil, errors.New("login attempt field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(v))); err != nil {
			return nil, err
		}
		buf.WriteString(v)
	}
	return buf.Bytes(), nil
}

func decodeLoginAttempt(data []byte) (*LoginAttempt, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginAttemptVersionV1 {
		return nil, errors.New("invalid login attempt version")
	}

	a := &LoginAttempt{}
	if err := binary.Read(reader, binary.BigEndian, &a.CreatedAt); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&a.State, &a.Verifier, &a.RedirectURI} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, err
		}
		*dst = string(b)
	}
	return a, nil
}
