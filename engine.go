package esimflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/esimflow/internal/audit"
	"github.com/MrEthical07/esimflow/internal/flows"
	"github.com/MrEthical07/esimflow/internal/rate"
	"github.com/MrEthical07/esimflow/internal/stores"
	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/internal/window"
	"github.com/MrEthical07/esimflow/jwt"
	"github.com/MrEthical07/esimflow/session"
	"github.com/sirupsen/logrus"
)

// Engine orchestrates provisioning sessions. It is the only writer of
// session state: every operation loads the session, runs the matching
// flow, and persists the committed result.
//
// Engine is safe for concurrent use across sessions. Within one session,
// mutating operations are serialized by an in-flight lock and a second
// concurrent call fails with ErrOperationInFlight.
type Engine struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	sessionStore *session.Store
	attempts     *stores.LoginAttemptStore
	refs         *stores.ChallengeRefStore
	locks        *stores.LockStore
	rateLimiter  *rate.Limiter

	window  *window.Window
	client  *upstream.Client
	flows   flows.Service
	handles *jwt.Manager

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close stops the audit dispatcher after draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Ping reports the round trip time to the session backend.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessionStore.Ping(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.sessionStore != nil && e.flows.Initialized()
}

func (e *Engine) log(ctx context.Context, sessionID, op string) *logrus.Entry {
	fields := logrus.Fields{"op": op}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	return e.logger.WithFields(fields)
}

func (e *Engine) observeUpstream(op string, status int, d time.Duration) {
	if e.metrics != nil {
		e.metrics.Observe(MetricUpstreamLatency, d)
	}
	e.logger.WithFields(logrus.Fields{
		"op":       op,
		"status":   status,
		"duration": d,
	}).Debug("upstream call completed")
}

// loadSession fetches sessionID and maps store errors to root sentinels.
func (e *Engine) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := e.sessionStore.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return sess, nil
}

// commit applies fn to the stored session and persists the result. fn
// must only assign fields; the store retries it on write conflicts.
func (e *Engine) commit(ctx context.Context, sessionID string, fn func(*session.Session)) (*session.Session, error) {
	updated, err := e.sessionStore.Update(ctx, sessionID, func(s *session.Session) error {
		fn(s)
		s.UpdatedAt = e.now().Unix()
		return nil
	})
	if err != nil {
		return nil, mapSessionError(err)
	}
	return updated, nil
}

// withSessionLock runs fn while holding the in-flight lock of sessionID.
// The context passed to fn carries the lock so long runs can extend it.
func (e *Engine) withSessionLock(ctx context.Context, sessionID, op string, fn func(ctx context.Context) error) error {
	token, err := e.locks.Acquire(ctx, sessionID, e.config.Session.InFlightTimeout)
	if err != nil {
		if errors.Is(err, stores.ErrLockHeld) {
			e.metricInc(MetricInFlightRejected)
			e.log(ctx, sessionID, op).Info("operation rejected: another call in flight")
			return ErrOperationInFlight
		}
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	defer func() {
		if _, err := e.locks.Release(context.WithoutCancel(ctx), sessionID, token); err != nil {
			e.log(ctx, sessionID, op).WithError(err).Warn("release in-flight lock")
		}
	}()
	return fn(withHeldLock(ctx, sessionID, token))
}

// extendSessionLock renews the in-flight lock held through ctx before a
// provisioning step. Stateless runs hold no lock and pass.
func (e *Engine) extendSessionLock(ctx context.Context, sessionID, step string) error {
	token, ok := heldLockToken(ctx, sessionID)
	if sessionID == "" || !ok {
		return nil
	}
	held, err := e.locks.Extend(ctx, sessionID, token, e.config.Session.InFlightTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if !held {
		e.log(ctx, sessionID, "provision").WithField("step", step).Error("in-flight lock lost before step")
		return ErrLockLost
	}
	return nil
}

// failureFrom converts a remote-call error into the persisted failure
// record. Local rule violations return nil and are not recorded.
func failureFrom(op string, err error) *session.Failure {
	oe, ok := AsOperationError(err)
	if !ok || oe.Kind == KindValidation {
		return nil
	}
	f := &session.Failure{
		Operation: oe.Op,
		Step:      oe.Step,
		Kind:      oe.Kind.String(),
		Status:    oe.Status,
		Message:   oe.Message,
	}
	if f.Operation == "" {
		f.Operation = op
	}
	return f
}

// recordFailure marks the session Failed without touching committed
// fields. extra may clear transient fields in the same write.
func (e *Engine) recordFailure(ctx context.Context, sessionID, op string, cause error, extra func(*session.Session)) {
	failure := failureFrom(op, cause)
	if failure == nil && extra == nil {
		return
	}
	_, err := e.commit(ctx, sessionID, func(s *session.Session) {
		if extra != nil {
			extra(s)
		}
		if failure != nil {
			s.State = session.StateFailed
			s.Failure = failure
		}
	})
	entry := e.log(ctx, sessionID, op).WithError(cause)
	if failure != nil {
		entry = entry.WithFields(logrus.Fields{"kind": failure.Kind, "status": failure.Status, "step": failure.Step})
	}
	if err != nil {
		entry.WithField("persist_error", err.Error()).Error("record failure")
		return
	}
	entry.Warn("operation failed")
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, session.ErrConflict),
		errors.Is(err, session.ErrCorrupt):
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	default:
		return err
	}
}

// mapStoreError maps transient store backend failures to
// ErrSessionUnavailable.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrLoginAttemptBackend),
		errors.Is(err, stores.ErrChallengeRefBackend),
		errors.Is(err, stores.ErrLockBackend),
		errors.Is(err, rate.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	default:
		return err
	}
}
