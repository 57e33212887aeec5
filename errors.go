package esimflow

import (
	"errors"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

var (
	// ErrInvalidCallback is returned when a login callback lacks code or state.
	ErrInvalidCallback = errors.New("invalid login callback")
	// ErrStateMismatch is returned when the callback state differs from the stored attempt.
	ErrStateMismatch = errors.New("login state mismatch")
	// ErrTokenExchangeFailed wraps a rejected authorization code exchange.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrInvalidCookie wraps a rejected session cookie probe.
	ErrInvalidCookie = errors.New("invalid cookie")
	// ErrChallengeFailed wraps a failed MFA challenge send.
	ErrChallengeFailed = errors.New("mfa challenge failed")
	// ErrVerificationFailed wraps a rejected MFA code.
	ErrVerificationFailed = errors.New("mfa verification failed")
	// ErrMemberLookupFailed wraps a failed member profile lookup.
	ErrMemberLookupFailed = errors.New("member lookup failed")
	// ErrProvisioningFailed wraps a failed provisioning step.
	ErrProvisioningFailed = errors.New("provisioning failed")

	ErrNotAuthenticated     = errors.New("session not authenticated")
	ErrNoPendingChallenge   = errors.New("no pending mfa challenge")
	ErrChallengeConsumed    = errors.New("mfa challenge already used")
	ErrNotVerified          = errors.New("mfa not verified")
	ErrAlreadyProvisioned   = errors.New("session already provisioned")
	ErrNotProvisioned       = errors.New("session not provisioned")
	ErrOutsideServiceWindow = errors.New("outside service window")
	ErrOperationInFlight    = errors.New("operation already in flight")
	// ErrLockLost is returned when the in-flight lock expired or changed
	// owner while a provisioning run was still going.
	ErrLockLost             = errors.New("in-flight lock lost")
	ErrChallengeRateLimited = errors.New("mfa challenge rate limited")

	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionUnavailable   = errors.New("session backend unavailable")
	ErrInvalidSessionHandle = errors.New("invalid session handle")
	ErrMissingInput         = errors.New("missing input")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// OperationError is the classified failure of one carrier operation. It
// unwraps to one of the sentinels above.
type OperationError = upstream.Error

// ErrorKind classifies an OperationError.
type ErrorKind = upstream.Kind

const (
	// KindValidation is a local input rejection (4xx, static message).
	KindValidation = upstream.KindValidation
	// KindUpstream is a non-2xx carrier response passed through with its body.
	KindUpstream = upstream.KindUpstream
	// KindSemantic is a GraphQL errors array on a 2xx response (400).
	KindSemantic = upstream.KindSemantic
	// KindLocal is a transport or decoding failure (500).
	KindLocal = upstream.KindLocal
)

// AsOperationError extracts an *OperationError from err.
func AsOperationError(err error) (*OperationError, bool) {
	return upstream.AsError(err)
}
