package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SessionID is the opaque 128-bit identifier of a provisioning session.
type SessionID [16]byte

const stateSize = 24

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// ValidSessionID reports whether s is a well-formed session id.
func ValidSessionID(s string) bool {
	_, err := ParseSessionID(s)
	return err == nil
}

// NewState returns an unguessable OAuth state value.
func NewState() (string, error) {
	var raw [stateSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
