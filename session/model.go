package session

import (
	"errors"
	"fmt"
)

// State is the workflow position of a session.
type State uint8

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateMFAChallengeSent
	StateMFAVerified
	StateProvisioning
	StateProvisioned
	StateFailed
)

var stateNames = [...]string{
	StateUnauthenticated:  "Unauthenticated",
	StateAuthenticated:    "Authenticated",
	StateMFAChallengeSent: "MfaChallengeSent",
	StateMFAVerified:      "MfaVerified",
	StateProvisioning:     "Provisioning",
	StateProvisioned:      "Provisioned",
	StateFailed:           "Failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", string(text))
}

// Failure describes the last failed transition.
type Failure struct {
	Operation string `json:"operation"`
	Step      string `json:"step,omitempty"`
	Kind      string `json:"kind"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
}

// ErrInvariant is returned by Validate when credential fields are
// inconsistent.
var ErrInvariant = errors.New("session invariant violated")

// Session holds the credentials and outputs accumulated by one client.
// Empty strings mean absent.
type Session struct {
	ID    string
	State State

	AccessToken     string
	Cookie          string
	MFAChallengeRef string
	MFASignature    string
	MemberID        string
	ActivationCode  string
	SSN             string
	LPAString       string

	MemberName  string
	PhoneNumber string
	SIMStatus   string

	WindowOverride bool
	Failure        *Failure

	CreatedAt int64
	UpdatedAt int64
}

// Authenticated reports whether an access token or cookie is held.
func (s *Session) Authenticated() bool {
	return s.AccessToken != "" || s.Cookie != ""
}

// Validate checks the credential ordering rules.
func (s *Session) Validate() error {
	if s.MFASignature != "" && !s.Authenticated() {
		return fmt.Errorf("%w: mfa signature without credentials", ErrInvariant)
	}
	if s.MemberID != "" && s.MFASignature == "" {
		return fmt.Errorf("%w: member id without mfa signature", ErrInvariant)
	}

	outputs := 0
	for _, v := range []string{s.ActivationCode, s.SSN, s.LPAString} {
		if v != "" {
			outputs++
		}
	}
	if outputs != 0 && outputs != 3 {
		return fmt.Errorf("%w: partial provisioning outputs", ErrInvariant)
	}
	if outputs == 3 && s.MemberID == "" {
		return fmt.Errorf("%w: provisioning outputs without member id", ErrInvariant)
	}
	if s.State > StateFailed {
		return fmt.Errorf("%w: unknown state %d", ErrInvariant, s.State)
	}
	return nil
}

// CommittedState derives the last successfully committed state from the
// credential fields, ignoring Failed and Provisioning.
func (s *Session) CommittedState() State {
	switch {
	case s.LPAString != "":
		return StateProvisioned
	case s.MemberID != "" && s.MFASignature != "":
		return StateMFAVerified
	case s.MFAChallengeRef != "" && s.Authenticated():
		return StateMFAChallengeSent
	case s.Authenticated():
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Failure != nil {
		f := *s.Failure
		cp.Failure = &f
	}
	return &cp
}
