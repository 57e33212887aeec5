package esimflow

import (
	"context"
	"errors"

	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/session"
)

// Provision runs reserve, swap and download-token for a verified session.
// The three outputs are persisted together only when every step succeeded;
// otherwise the session is Failed with the failing step recorded and the
// earlier credentials intact, so the run can be retried. Gated by the
// service window.
func (e *Engine) Provision(ctx context.Context, sessionID string) (*SessionView, error) {
	var out *SessionView
	err := e.mutate(ctx, sessionID, "provision", func(ctx context.Context, sess *session.Session) error {
		if sess.CommittedState() == session.StateProvisioned {
			return ErrAlreadyProvisioned
		}
		if !sess.Authenticated() {
			return ErrNotAuthenticated
		}
		if sess.MFASignature == "" || sess.MemberID == "" {
			return ErrNotVerified
		}
		if err := e.gate(ctx, sess, "provision"); err != nil {
			return err
		}

		if _, err := e.commit(ctx, sessionID, func(s *session.Session) {
			s.State = session.StateProvisioning
			s.Failure = nil
		}); err != nil {
			return err
		}

		artifact, err := e.flows.Provision(ctx, sessionID, sess.AccessToken, sess.MFASignature, sess.MemberID)
		if errors.Is(err, ErrLockLost) {
			// Another holder may own the session now.
			return err
		}
		if err != nil {
			e.recordFailure(ctx, sessionID, upstream.OpReserveESim, err, func(s *session.Session) {
				if s.State == session.StateProvisioning {
					s.State = s.CommittedState()
				}
			})
			return err
		}

		updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
			s.ActivationCode = artifact.ActivationCode
			s.SSN = artifact.SSN
			s.LPAString = artifact.LPAString
			s.State = session.StateProvisioned
			s.Failure = nil
		})
		if err != nil {
			return err
		}
		out = newSessionView(updated)
		e.log(ctx, sessionID, "provision").WithField("state", updated.State.String()).Info("esim provisioned")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ESimArtifact returns the provisioning output of sessionID, or
// ErrNotProvisioned when the session has none.
func (e *Engine) ESimArtifact(ctx context.Context, sessionID string) (*Artifact, error) {
	sess, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.LPAString == "" {
		return nil, ErrNotProvisioned
	}
	return &Artifact{
		ActivationCode: sess.ActivationCode,
		SSN:            sess.SSN,
		LPAString:      sess.LPAString,
	}, nil
}
