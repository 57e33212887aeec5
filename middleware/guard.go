package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/esimflow"
)

// HeaderSessionHandle carries the session handle for clients that cannot
// hold cookies.
const HeaderSessionHandle = "X-Session-Handle"

type sessionIDContextKey struct{}
type sessionViewContextKey struct{}

// SessionIDFromContext returns the session id resolved by a guard.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDContextKey{}).(string)
	return sid, ok && sid != ""
}

// SessionViewFromContext returns the session loaded by RequireLiveSession.
func SessionViewFromContext(ctx context.Context) (*esimflow.SessionView, bool) {
	v, ok := ctx.Value(sessionViewContextKey{}).(*esimflow.SessionView)
	return v, ok && v != nil
}

// HandleFromRequest returns the session handle from the cookie named
// cookieName, falling back to the X-Session-Handle header.
func HandleFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(HeaderSessionHandle)
}

// RequireSession rejects requests without a valid session handle and
// stores the resolved session id in the request context.
func RequireSession(engine *esimflow.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := resolve(engine, w, r)
			if !ok {
				return
			}
			ctx := context.WithValue(r.Context(), sessionIDContextKey{}, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(engine *esimflow.Engine, w http.ResponseWriter, r *http.Request) (string, bool) {
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "engine not configured")
		return "", false
	}
	handle := HandleFromRequest(r, engine.Config().Handle.CookieName)
	sid, err := engine.ResolveSessionHandle(handle)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or missing session handle", err.Error())
		return "", false
	}
	return sid, true
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details"`
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Details: details})
}
