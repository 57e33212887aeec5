package httpapi

import (
	"net/http"

	"github.com/MrEthical07/esimflow"
	"github.com/MrEthical07/esimflow/middleware"
)

type sessionResponse struct {
	Session *esimflow.SessionView `json:"session"`
	Window  esimflow.WindowStatus `json:"window"`
	Handle  string                `json:"handle,omitempty"`
}

func (s *Server) setHandleCookie(w http.ResponseWriter, handle string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Handle.CookieName,
		Value:    handle,
		Path:     "/",
		MaxAge:   int(s.cfg.Handle.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Handle.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearHandleCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Handle.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Handle.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID is set by the RequireSession guard on every session route.
func sessionID(r *http.Request) string {
	sid, _ := middleware.SessionIDFromContext(r.Context())
	return sid
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	view, handle, err := s.engine.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setHandleCookie(w, handle)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Session: view,
		Window:  s.engine.ServiceWindow(),
		Handle:  handle,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Session(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view, Window: s.engine.ServiceWindow()})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context(), sessionID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearHandleCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serviceWindow(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ServiceWindow())
}

func (s *Server) windowOverride(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.engine.OverrideServiceWindow(r.Context(), sessionID(r)))
}

// respondView renders the outcome of an Engine call returning a view.
func (s *Server) respondView(w http.ResponseWriter, r *http.Request) func(*esimflow.SessionView, error) {
	return func(view *esimflow.SessionView, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: view, Window: s.engine.ServiceWindow()})
	}
}
