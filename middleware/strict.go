package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/esimflow"
)

// RequireLiveSession is RequireSession plus a store read: the session
// must still exist. The loaded view is stored in the request context.
func RequireLiveSession(engine *esimflow.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := resolve(engine, w, r)
			if !ok {
				return
			}

			view, err := engine.Session(r.Context(), sid)
			switch {
			case errors.Is(err, esimflow.ErrSessionNotFound):
				writeError(w, http.StatusUnauthorized, "Session expired", err.Error())
				return
			case err != nil:
				writeError(w, http.StatusServiceUnavailable, "Session store unavailable", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), sessionIDContextKey{}, sid)
			ctx = context.WithValue(ctx, sessionViewContextKey{}, view)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
