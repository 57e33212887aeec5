package esimflow

import (
	"context"
	"errors"

	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/session"
)

// SendMFAChallenge asks the carrier to deliver a one-time code over
// channel (EMAIL when empty) and records the returned challenge ref.
// Requires an authenticated session; gated by the service window.
func (e *Engine) SendMFAChallenge(ctx context.Context, sessionID, channel string) (*SessionView, error) {
	var out *SessionView
	err := e.mutate(ctx, sessionID, "mfa_challenge", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}
		if !sess.Authenticated() {
			return ErrNotAuthenticated
		}
		if err := e.gate(ctx, sess, "mfa_challenge"); err != nil {
			return err
		}

		ref, err := e.flows.SendChallenge(ctx, sessionID, sess.AccessToken, channel)
		if err != nil {
			e.recordFailure(ctx, sessionID, upstream.OpMFAChallenge, err, nil)
			return err
		}

		e.discardRef(ctx, sess)
		updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
			resetVerification(s)
			s.MFAChallengeRef = ref
			s.State = session.StateMFAChallengeSent
			s.Failure = nil
		})
		if err != nil {
			return err
		}
		out = newSessionView(updated)
		e.log(ctx, sessionID, "mfa_challenge").Info("mfa challenge sent")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyMFA submits code against the pending challenge and, on success,
// resolves the member id. The pending ref is spent by any attempt that
// reaches the carrier. A failed member lookup discards the signature and
// leaves the session Authenticated.
func (e *Engine) VerifyMFA(ctx context.Context, sessionID, code string) (*SessionView, error) {
	var out *SessionView
	err := e.mutate(ctx, sessionID, "mfa_verify", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}
		if !sess.Authenticated() {
			return ErrNotAuthenticated
		}
		if sess.MFAChallengeRef == "" {
			return ErrNoPendingChallenge
		}

		signature, err := e.flows.VerifyCode(ctx, sessionID, sess.AccessToken, sess.MFAChallengeRef, code)
		if err != nil {
			if errors.Is(err, ErrMissingInput) {
				return err
			}
			e.recordFailure(ctx, sessionID, upstream.OpMFAVerify, err, clearPendingRef)
			return err
		}

		member, err := e.flows.MemberLookup(ctx, sessionID, sess.AccessToken, signature)
		if err != nil {
			failure := failureFrom(upstream.OpMemberInfo, err)
			if _, cerr := e.commit(ctx, sessionID, func(s *session.Session) {
				resetVerification(s)
				s.State = session.StateAuthenticated
				s.Failure = failure
			}); cerr != nil {
				e.log(ctx, sessionID, "member_info").WithError(cerr).Error("roll back after member lookup failure")
			}
			e.log(ctx, sessionID, "member_info").WithError(err).Warn("member lookup failed; signature discarded")
			return err
		}

		updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
			s.MFAChallengeRef = ""
			s.MFASignature = signature
			s.MemberID = member.MemberID
			s.MemberName = member.MemberName
			s.PhoneNumber = member.PhoneNumber
			s.SIMStatus = member.SIMStatus
			s.State = session.StateMFAVerified
			s.Failure = nil
		})
		if err != nil {
			return err
		}
		out = newSessionView(updated)
		e.log(ctx, sessionID, "mfa_verify").Info("mfa verified")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// clearPendingRef drops the spent challenge ref. Without a recorded
// failure the state falls back to the committed one.
func clearPendingRef(s *session.Session) {
	s.MFAChallengeRef = ""
	if s.State == session.StateMFAChallengeSent {
		s.State = s.CommittedState()
	}
}
