package esimflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	auditEventSessionCreated       = "session_created"
	auditEventLoginStarted         = "login_started"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventCookieLoginSuccess   = "cookie_login_success"
	auditEventCookieLoginFailure   = "cookie_login_failure"
	auditEventMFAChallengeSent     = "mfa_challenge_sent"
	auditEventMFAChallengeFailure  = "mfa_challenge_failure"
	auditEventMFAChallengeThrottle = "mfa_challenge_rate_limited"
	auditEventMFAVerifySuccess     = "mfa_verify_success"
	auditEventMFAVerifyFailure     = "mfa_verify_failure"
	auditEventMFAReplayRejected    = "mfa_replay_rejected"
	auditEventMemberLookupFailure  = "member_lookup_failure"
	auditEventProvisionSuccess     = "provision_success"
	auditEventProvisionFailure     = "provision_failure"
	auditEventWindowBlocked        = "service_window_blocked"
	auditEventWindowOverride       = "service_window_override"
	auditEventLogout               = "logout"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCallback   AuditErrorCode = "invalid_callback"
	auditErrStateMismatch     AuditErrorCode = "state_mismatch"
	auditErrTokenExchange     AuditErrorCode = "token_exchange_failed"
	auditErrInvalidCookie     AuditErrorCode = "invalid_cookie"
	auditErrChallengeFailed   AuditErrorCode = "challenge_failed"
	auditErrVerification      AuditErrorCode = "verification_failed"
	auditErrChallengeConsumed AuditErrorCode = "challenge_consumed"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrMemberLookup      AuditErrorCode = "member_lookup_failed"
	auditErrProvisioning      AuditErrorCode = "provisioning_failed"
	auditErrOutsideWindow     AuditErrorCode = "outside_service_window"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	sessionID string,
	memberID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		SessionID: sessionID,
		MemberID:  memberID,
		IP:        clientIPFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// flowAudit adapts emitAudit to the flow callback signature.
func (e *Engine) flowAudit(ctx context.Context, eventType string, success bool, sessionID string, err error, metadata func() map[string]string) {
	if eventType == "" {
		return
	}
	e.emitAudit(ctx, eventType, success, sessionID, "", err, metadata)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCallback):
		return auditErrInvalidCallback
	case errors.Is(err, ErrStateMismatch):
		return auditErrStateMismatch
	case errors.Is(err, ErrTokenExchangeFailed):
		return auditErrTokenExchange
	case errors.Is(err, ErrInvalidCookie):
		return auditErrInvalidCookie
	case errors.Is(err, ErrChallengeFailed):
		return auditErrChallengeFailed
	case errors.Is(err, ErrVerificationFailed):
		return auditErrVerification
	case errors.Is(err, ErrChallengeConsumed):
		return auditErrChallengeConsumed
	case errors.Is(err, ErrChallengeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrMemberLookupFailed):
		return auditErrMemberLookup
	case errors.Is(err, ErrProvisioningFailed):
		return auditErrProvisioning
	case errors.Is(err, ErrOutsideServiceWindow):
		return auditErrOutsideWindow
	case errors.Is(err, ErrSessionUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
