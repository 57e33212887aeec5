package esimflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/esimflow/internal"
	"github.com/MrEthical07/esimflow/session"
)

// CreateSession creates an empty Unauthenticated session and returns its
// view together with a signed handle naming it.
func (e *Engine) CreateSession(ctx context.Context) (*SessionView, string, error) {
	if !e.ready() {
		return nil, "", ErrEngineNotReady
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, "", err
	}
	now := e.now().Unix()
	sess := &session.Session{
		ID:        sid.String(),
		State:     session.StateUnauthenticated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.sessionStore.Save(ctx, sess); err != nil {
		return nil, "", mapSessionError(err)
	}

	handle, err := e.handles.Issue(sess.ID)
	if err != nil {
		return nil, "", err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, sess.ID, "", nil, nil)
	e.log(ctx, sess.ID, "create_session").Debug("session created")

	return newSessionView(sess), handle, nil
}

// Session returns the current view of sessionID.
func (e *Engine) Session(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return newSessionView(sess), nil
}

// ResolveSessionHandle verifies handle and returns the session id it
// names. It does not check that the session still exists.
func (e *Engine) ResolveSessionHandle(handle string) (string, error) {
	if e == nil || e.handles == nil {
		return "", ErrEngineNotReady
	}
	if handle == "" {
		return "", ErrInvalidSessionHandle
	}
	sid, err := e.handles.Parse(handle)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionHandle, err)
	}
	if !internal.ValidSessionID(sid) {
		return "", ErrInvalidSessionHandle
	}
	return sid, nil
}

// Logout deletes the session together with its pending login attempt,
// in-flight lock and challenge counter. Logging out an unknown session is
// not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return ErrSessionNotFound
	}

	var ref string
	if sess, err := e.sessionStore.Get(ctx, sessionID); err == nil {
		ref = sess.MFAChallengeRef
	}

	existed, err := e.sessionStore.Delete(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}

	var errs []error
	if _, err := e.attempts.Delete(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := e.locks.Clear(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if err := e.rateLimiter.ResetSession(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if ref != "" {
		if err := e.refs.Discard(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, sessionID, "", nil, func() map[string]string {
		return map[string]string{"existed": strconv.FormatBool(existed)}
	})

	if len(errs) > 0 {
		err := errors.Join(errs...)
		e.log(ctx, sessionID, "logout").WithError(err).Warn("logout left transient keys behind")
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}
