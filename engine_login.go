package esimflow

import (
	"context"

	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/session"
)

// StartLogin begins a PKCE login for sessionID and returns the
// authorization URL the user must visit. Gated by the service window.
func (e *Engine) StartLogin(ctx context.Context, sessionID string) (*LoginStart, error) {
	var out *LoginStart
	err := e.mutate(ctx, sessionID, "start_login", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}
		if err := e.gate(ctx, sess, "start_login"); err != nil {
			return err
		}

		start, err := e.flows.StartLogin(ctx, sessionID)
		if err != nil {
			return err
		}
		out = &LoginStart{AuthURL: start.AuthURL, State: start.State}
		e.log(ctx, sessionID, "start_login").Info("authorization url issued")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteLogin validates the redirect the authorization server sent back
// and exchanges its code for an access token. On success the session is
// Authenticated and any earlier MFA progress is discarded.
func (e *Engine) CompleteLogin(ctx context.Context, sessionID, callbackURL string) (*SessionView, error) {
	var out *SessionView
	err := e.mutate(ctx, sessionID, "complete_login", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}

		res, err := e.flows.CompleteLogin(ctx, sessionID, callbackURL)
		if err != nil {
			e.recordFailure(ctx, sessionID, upstream.OpTokenExchange, err, nil)
			return err
		}

		e.discardRef(ctx, sess)
		updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
			resetVerification(s)
			s.AccessToken = res.AccessToken
			s.Cookie = ""
			s.State = session.StateAuthenticated
			s.Failure = nil
		})
		if err != nil {
			return err
		}
		out = newSessionView(updated)
		e.log(ctx, sessionID, "complete_login").Info("session authenticated")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoginWithCookie authenticates sessionID with a cookie exported from a
// signed-in browser. Gated by the service window.
func (e *Engine) LoginWithCookie(ctx context.Context, sessionID, cookie string) (*SessionView, error) {
	var out *SessionView
	err := e.mutate(ctx, sessionID, "cookie_login", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}
		if err := e.gate(ctx, sess, "cookie_login"); err != nil {
			return err
		}

		res, err := e.flows.CookieLogin(ctx, sessionID, cookie)
		if err != nil {
			e.recordFailure(ctx, sessionID, upstream.OpVerifyCookie, err, nil)
			return err
		}

		e.discardRef(ctx, sess)
		updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
			resetVerification(s)
			s.Cookie = res.Cookie
			s.AccessToken = res.AccessToken
			s.State = session.StateAuthenticated
			s.Failure = nil
		})
		if err != nil {
			return err
		}
		out = newSessionView(updated)
		e.log(ctx, sessionID, "cookie_login").Info("session authenticated with cookie")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutate loads sessionID under its in-flight lock and runs fn with the
// loaded value. fn persists its own changes through commit.
func (e *Engine) mutate(ctx context.Context, sessionID, op string, fn func(context.Context, *session.Session) error) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return err
	}
	return e.withSessionLock(ctx, sessionID, op, func(ctx context.Context) error {
		sess, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return fn(ctx, sess)
	})
}

// resetVerification clears everything derived from a previous MFA run.
func resetVerification(s *session.Session) {
	s.MFAChallengeRef = ""
	s.MFASignature = ""
	s.MemberID = ""
	s.MemberName = ""
	s.PhoneNumber = ""
	s.SIMStatus = ""
}

// discardRef drops the pending challenge ref of s from the single-use
// store. Failures only leave a ref that expires on its own.
func (e *Engine) discardRef(ctx context.Context, s *session.Session) {
	if s.MFAChallengeRef == "" {
		return
	}
	if err := e.refs.Discard(ctx, s.MFAChallengeRef); err != nil {
		e.log(ctx, s.ID, "discard_ref").WithError(err).Warn("discard challenge ref")
	}
}
