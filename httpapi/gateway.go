package httpapi

import (
	"net/http"
)

type tokenExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

func (s *Server) tokenExchange(w http.ResponseWriter, r *http.Request) {
	var req tokenExchangeRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	tokens, err := s.engine.ExchangeToken(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

type verifyCookieRequest struct {
	Cookie string `json:"cookie"`
}

func (s *Server) verifyCookie(w http.ResponseWriter, r *http.Request) {
	var req verifyCookieRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	token, err := s.engine.VerifyCookie(r.Context(), req.Cookie)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

type challengeRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) mfaChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	ref, err := s.engine.MFAChallenge(r.Context(), bearerToken(r), req.Channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ref": ref})
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
	Ref  string `json:"ref"`
}

func (s *Server) mfaVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	sig, err := s.engine.MFAVerify(r.Context(), bearerToken(r), req.Ref, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mfa_signature": sig})
}

func (s *Server) memberInfo(w http.ResponseWriter, r *http.Request) {
	member, err := s.engine.MemberInfo(r.Context(), bearerToken(r), r.Header.Get("X-MFA-Signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type requestESimRequest struct {
	MemberID string `json:"memberId"`
}

func (s *Server) requestESim(w http.ResponseWriter, r *http.Request) {
	var req requestESimRequest
	if !parseJSONOrReject(w, r, &req) {
		return
	}
	artifact, err := s.engine.RequestESim(r.Context(), bearerToken(r), r.Header.Get("X-MFA-Signature"), req.MemberID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}
