package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/esimflow"
	"github.com/sirupsen/logrus"
)

// errorEnvelope is the body of every failed request.
type errorEnvelope struct {
	Error   string             `json:"error"`
	Details any                `json:"details"`
	Status  int                `json:"status,omitempty"`
	Step    string             `json:"step,omitempty"`
	Kind    esimflow.ErrorKind `json:"kind,omitempty"`
}

var sentinelStatus = []struct {
	err    error
	status int
}{
	{esimflow.ErrInvalidCallback, http.StatusBadRequest},
	{esimflow.ErrStateMismatch, http.StatusBadRequest},
	{esimflow.ErrMissingInput, http.StatusBadRequest},
	{esimflow.ErrInvalidSessionHandle, http.StatusUnauthorized},
	{esimflow.ErrNotAuthenticated, http.StatusUnauthorized},
	{esimflow.ErrSessionNotFound, http.StatusNotFound},
	{esimflow.ErrNoPendingChallenge, http.StatusConflict},
	{esimflow.ErrChallengeConsumed, http.StatusConflict},
	{esimflow.ErrNotVerified, http.StatusConflict},
	{esimflow.ErrAlreadyProvisioned, http.StatusConflict},
	{esimflow.ErrNotProvisioned, http.StatusConflict},
	{esimflow.ErrOperationInFlight, http.StatusConflict},
	{esimflow.ErrLockLost, http.StatusConflict},
	{esimflow.ErrOutsideServiceWindow, http.StatusConflict},
	{esimflow.ErrChallengeRateLimited, http.StatusTooManyRequests},
	{esimflow.ErrSessionUnavailable, http.StatusServiceUnavailable},
	{esimflow.ErrEngineNotReady, http.StatusServiceUnavailable},
}

// envelopeFor maps an Engine error to a status code and body.
func envelopeFor(err error) (int, errorEnvelope) {
	var closed *esimflow.WindowClosedError
	if errors.As(err, &closed) {
		return http.StatusConflict, errorEnvelope{
			Error:   esimflow.ErrOutsideServiceWindow.Error(),
			Details: closed.Status,
		}
	}

	if oe, ok := esimflow.AsOperationError(err); ok {
		status := oe.Status
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		env := errorEnvelope{
			Error:   oe.Message,
			Details: oe.Details,
			Step:    oe.Step,
			Kind:    oe.Kind,
		}
		if env.Details == nil {
			env.Details = oe.Message
		}
		if oe.Kind == esimflow.KindUpstream {
			env.Status = oe.Status
		}
		return status, env
	}

	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status, errorEnvelope{Error: s.err.Error(), Details: err.Error()}
		}
	}

	return http.StatusInternalServerError, errorEnvelope{
		Error:   "Internal server error",
		Details: err.Error(),
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := envelopeFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": esimflow.RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		}).Error("request failed")
	}
	writeJSON(w, status, env)
}
