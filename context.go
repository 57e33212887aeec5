package esimflow

import "context"

type clientIPContextKey struct{}
type requestIDContextKey struct{}
type heldLockContextKey struct{}

type heldLock struct {
	sessionID string
	token     string
}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP challenge throttling and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRequestID attaches a request correlation id to ctx. It is copied
// into audit events and engine log entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// RequestIDFromContext returns the id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func withHeldLock(ctx context.Context, sessionID, token string) context.Context {
	return context.WithValue(ctx, heldLockContextKey{}, heldLock{sessionID: sessionID, token: token})
}

// heldLockToken returns the in-flight lock token ctx holds for sessionID.
func heldLockToken(ctx context.Context, sessionID string) (string, bool) {
	if ctx == nil {
		return "", false
	}
	held, ok := ctx.Value(heldLockContextKey{}).(heldLock)
	if !ok || held.sessionID != sessionID {
		return "", false
	}
	return held.token, true
}
