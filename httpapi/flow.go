package httpapi

import (
	"net/http"
)

func (s *Server) startLogin(w http.ResponseWriter, r *http.Request) {
	start, err := s.engine.StartLogin(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, start)
}

type callbackRequest struct {
	CallbackURL string `json:"callbackUrl"`
}

func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	s.respondView(w, r)(s.engine.CompleteLogin(r.Context(), sessionID(r), req.CallbackURL))
}

func (s *Server) cookieLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyCookieRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	s.respondView(w, r)(s.engine.LoginWithCookie(r.Context(), sessionID(r), req.Cookie))
}

func (s *Server) sendChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	s.respondView(w, r)(s.engine.SendMFAChallenge(r.Context(), sessionID(r), req.Channel))
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	s.respondView(w, r)(s.engine.VerifyMFA(r.Context(), sessionID(r), req.Code))
}

func (s *Server) provision(w http.ResponseWriter, r *http.Request) {
	s.respondView(w, r)(s.engine.Provision(r.Context(), sessionID(r)))
}
