package esimflow

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/esimflow/internal/audit"
	"github.com/MrEthical07/esimflow/internal/flows"
	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/internal/window"
	"github.com/MrEthical07/esimflow/session"
	"github.com/sirupsen/logrus"
)

// SessionState is the workflow position of a session.
type SessionState = session.State

const (
	StateUnauthenticated  = session.StateUnauthenticated
	StateAuthenticated    = session.StateAuthenticated
	StateMFAChallengeSent = session.StateMFAChallengeSent
	StateMFAVerified      = session.StateMFAVerified
	StateProvisioning     = session.StateProvisioning
	StateProvisioned      = session.StateProvisioned
	StateFailed           = session.StateFailed
)

// SessionFailure describes the last failed transition of a session.
type SessionFailure = session.Failure

// Login methods reported in SessionView.AuthMethod.
const (
	AuthMethodPKCE   = "pkce"
	AuthMethodCookie = "cookie"
)

// SessionView is the client-facing projection of a session. It never
// carries the access token, cookie or MFA signature.
type SessionView struct {
	ID                  string          `json:"id"`
	State               SessionState    `json:"state"`
	CommittedState      SessionState    `json:"committedState"`
	Authenticated       bool            `json:"authenticated"`
	AuthMethod          string          `json:"authMethod,omitempty"`
	MFAChallengePending bool            `json:"mfaChallengePending"`
	MFAVerified         bool            `json:"mfaVerified"`
	MemberID            string          `json:"memberId,omitempty"`
	MemberName          string          `json:"memberName,omitempty"`
	PhoneNumber         string          `json:"phoneNumber,omitempty"`
	SIMStatus           string          `json:"simStatus,omitempty"`
	ActivationCode      string          `json:"activationCode,omitempty"`
	SSN                 string          `json:"ssn,omitempty"`
	LPAString           string          `json:"lpaString,omitempty"`
	WindowOverride      bool            `json:"windowOverride"`
	Failure             *SessionFailure `json:"failure,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func newSessionView(s *session.Session) *SessionView {
	v := &SessionView{
		ID:                  s.ID,
		State:               s.State,
		CommittedState:      s.CommittedState(),
		Authenticated:       s.Authenticated(),
		MFAChallengePending: s.MFAChallengeRef != "",
		MFAVerified:         s.MFASignature != "" && s.MemberID != "",
		MemberID:            s.MemberID,
		MemberName:          s.MemberName,
		PhoneNumber:         s.PhoneNumber,
		SIMStatus:           s.SIMStatus,
		ActivationCode:      s.ActivationCode,
		SSN:                 s.SSN,
		LPAString:           s.LPAString,
		WindowOverride:      s.WindowOverride,
		CreatedAt:           time.Unix(s.CreatedAt, 0).UTC(),
		UpdatedAt:           time.Unix(s.UpdatedAt, 0).UTC(),
	}
	switch {
	case s.Cookie != "":
		v.AuthMethod = AuthMethodCookie
	case s.AccessToken != "":
		v.AuthMethod = AuthMethodPKCE
	}
	if s.Failure != nil {
		f := *s.Failure
		v.Failure = &f
	}
	return v
}

// WindowStatus is the result of a service window check.
type WindowStatus = window.Status

// Artifact is the output of a completed provisioning run.
type Artifact = flows.Artifact

// Member is the profile returned by a member lookup.
type Member = upstream.Member

// LoginStart is returned by StartLogin. Verifier is kept server-side and
// is exposed only for callers driving the token exchange themselves.
type LoginStart struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Provisioning steps, in execution order.
const (
	StepReserve       = flows.StepReserve
	StepSwap          = flows.StepSwap
	StepDownloadToken = flows.StepDownloadToken
)

// MFA delivery channels.
const (
	ChannelEmail = flows.ChannelEmail
	ChannelSMS   = flows.ChannelSMS
)

// AuditEvent is one record emitted by the engine's audit dispatcher.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// LogrusSink is an [AuditSink] that writes one structured log entry per
// event.
type LogrusSink = internalaudit.LogrusSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogrusSink creates a [LogrusSink] writing to logger.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return internalaudit.NewLogrusSink(logger)
}
