package esimflow

import (
	"context"
	"strconv"

	"github.com/MrEthical07/esimflow/session"
)

// WindowClosedError is returned by gated operations invoked outside the
// service window on a session without an override. It unwraps to
// ErrOutsideServiceWindow.
type WindowClosedError struct {
	Status WindowStatus
}

func (e *WindowClosedError) Error() string {
	return ErrOutsideServiceWindow.Error() + " (opens " + e.Status.Opens + ", closes " + e.Status.Closes + " " + e.Status.Zone + ")"
}

func (e *WindowClosedError) Unwrap() error {
	return ErrOutsideServiceWindow
}

// ServiceWindow reports whether the current instant falls inside the
// service window. With the gate disabled the window is always open.
func (e *Engine) ServiceWindow() WindowStatus {
	if e == nil {
		return WindowStatus{WithinWindow: true}
	}
	if e.window == nil {
		now := e.now()
		return WindowStatus{WithinWindow: true, CivilTime: now, Zone: now.Location().String()}
	}
	return e.window.Check(e.now())
}

// OverrideServiceWindow lets sessionID run gated operations outside the
// window for the rest of its lifetime. It is the explicit confirmation a
// client gives after being warned; logout clears it.
func (e *Engine) OverrideServiceWindow(ctx context.Context, sessionID string) (*SessionView, error) {
	if _, err := e.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}

	updated, err := e.commit(ctx, sessionID, func(s *session.Session) {
		s.WindowOverride = true
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricWindowOverride)
	e.emitAudit(ctx, auditEventWindowOverride, true, sessionID, "", nil, func() map[string]string {
		st := e.ServiceWindow()
		return map[string]string{
			"within_window": strconv.FormatBool(st.WithinWindow),
			"civil_time":    st.CivilTime.Format("15:04:05"),
			"zone":          st.Zone,
		}
	})
	e.log(ctx, sessionID, "window_override").Info("service window override confirmed")

	return newSessionView(updated), nil
}

// gate refuses op outside the service window unless sess carries an
// override.
func (e *Engine) gate(ctx context.Context, sess *session.Session, op string) error {
	if e.window == nil || sess.WindowOverride {
		return nil
	}
	st := e.window.Check(e.now())
	if st.WithinWindow {
		return nil
	}

	e.metricInc(MetricWindowBlocked)
	e.emitAudit(ctx, auditEventWindowBlocked, false, sess.ID, sess.MemberID, ErrOutsideServiceWindow, func() map[string]string {
		return map[string]string{
			"operation":  op,
			"civil_time": st.CivilTime.Format("15:04:05"),
			"zone":       st.Zone,
		}
	})
	e.log(ctx, sess.ID, op).WithField("civil_time", st.CivilTime.Format("15:04:05")).Info("blocked outside service window")

	return &WindowClosedError{Status: st}
}
