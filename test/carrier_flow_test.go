//go:build integration
// +build integration

package test

import (
	"net/http"
	"net/url"
	"testing"
)

func TestPKCELoginToProvisionedOverHTTP(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			s := newStack(t, rdb, nil)
			h := s.newSession(t)

			status, body := s.call(t, http.MethodPost, "/api/flow/login", h, nil)
			if status != http.StatusOK {
				t.Fatalf("start login: %d %v", status, body)
			}
			authURL, err := url.Parse(body["authUrl"].(string))
			if err != nil {
				t.Fatalf("auth url: %v", err)
			}
			q := authURL.Query()
			if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
				t.Fatalf("auth url lacks PKCE parameters: %s", authURL)
			}
			state := q.Get("state")
			if state == "" || state != body["state"] {
				t.Fatalf("state mismatch between url and response: %q vs %v", state, body["state"])
			}

			callback := "giffgaff://auth/callback/?code=auth-code&state=" + url.QueryEscape(state)
			status, body = s.call(t, http.MethodPost, "/api/flow/login/callback", h, map[string]string{"callbackUrl": callback})
			if status != http.StatusOK {
				t.Fatalf("complete login: %d %v", status, body)
			}
			if got := sessionField(t, body, "state"); got != "Authenticated" {
				t.Fatalf("expected Authenticated, got %v", got)
			}
			if v, _ := s.carrier.lastVerifier.Load().(string); len(v) < 43 {
				t.Fatalf("token exchange sent a short verifier %q", v)
			}

			status, body = s.call(t, http.MethodPost, "/api/flow/mfa/challenge", h, map[string]string{"channel": "EMAIL"})
			if status != http.StatusOK {
				t.Fatalf("challenge: %d %v", status, body)
			}
			if sessionField(t, body, "mfaChallengePending") != true {
				t.Fatalf("expected pending challenge: %v", body)
			}

			status, body = s.call(t, http.MethodPost, "/api/flow/mfa/verify", h, map[string]string{"code": carrierCode})
			if status != http.StatusOK {
				t.Fatalf("verify: %d %v", status, body)
			}
			if sessionField(t, body, "memberId") != "m-1" || sessionField(t, body, "memberName") != "Ada" {
				t.Fatalf("member lookup not applied: %v", body)
			}

			status, body = s.call(t, http.MethodPost, "/api/flow/provision", h, nil)
			if status != http.StatusOK {
				t.Fatalf("provision: %d %v", status, body)
			}
			if sessionField(t, body, "state") != "Provisioned" {
				t.Fatalf("expected Provisioned: %v", body)
			}
			if sessionField(t, body, "ssn") != carrierSSN ||
				sessionField(t, body, "activationCode") != carrierActivation ||
				sessionField(t, body, "lpaString") != carrierLPA {
				t.Fatalf("provisioning outputs incomplete: %v", body)
			}

			for _, op := range []string{"token", "challenge", "validation", "member", "reserve", "swap", "download"} {
				if n := s.carrier.count(op); n != 1 {
					t.Fatalf("expected one %s call, got %d", op, n)
				}
			}
		})
	}
}

func TestCookieLoginThenRejectedCode(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			s := newStack(t, rdb, nil)
			h := s.newSession(t)

			status, body := s.call(t, http.MethodPost, "/api/flow/login/cookie", h, map[string]string{"cookie": "gg_session=abc"})
			if status != http.StatusOK {
				t.Fatalf("cookie login: %d %v", status, body)
			}
			if sessionField(t, body, "authMethod") != "cookie" {
				t.Fatalf("expected cookie auth method: %v", body)
			}

			status, _ = s.call(t, http.MethodPost, "/api/flow/mfa/challenge", h, map[string]string{"channel": "SMS"})
			if status != http.StatusOK {
				t.Fatalf("challenge: %d", status)
			}

			status, body = s.call(t, http.MethodPost, "/api/flow/mfa/verify", h, map[string]string{"code": "000000"})
			if status != http.StatusBadRequest {
				t.Fatalf("expected upstream 400 passthrough, got %d %v", status, body)
			}
			if body["kind"] != "upstream" || body["status"] != float64(http.StatusBadRequest) {
				t.Fatalf("unexpected error envelope: %v", body)
			}

			// The ref was consumed by the failed attempt.
			status, body = s.call(t, http.MethodPost, "/api/flow/mfa/verify", h, map[string]string{"code": carrierCode})
			if status != http.StatusConflict {
				t.Fatalf("expected consumed challenge conflict, got %d %v", status, body)
			}
			if s.carrier.count("validation") != 1 {
				t.Fatalf("consumed ref must not reach the carrier again")
			}
		})
	}
}

func TestProvisionFailureKeepsCredentialsAndRetries(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			s := newStack(t, rdb, nil)
			h := s.newSession(t)

			for _, step := range []struct {
				path string
				body any
			}{
				{"/api/flow/login/cookie", map[string]string{"cookie": "gg_session=abc"}},
				{"/api/flow/mfa/challenge", map[string]string{"channel": "EMAIL"}},
				{"/api/flow/mfa/verify", map[string]string{"code": carrierCode}},
			} {
				if status, body := s.call(t, http.MethodPost, step.path, h, step.body); status != http.StatusOK {
					t.Fatalf("%s: %d %v", step.path, status, body)
				}
			}

			s.carrier.reject("swap", http.StatusBadGateway)
			status, body := s.call(t, http.MethodPost, "/api/flow/provision", h, nil)
			if status != http.StatusBadGateway {
				t.Fatalf("expected 502 passthrough, got %d %v", status, body)
			}
			if body["step"] != "swap" {
				t.Fatalf("expected failing step swap, got %v", body)
			}

			status, body = s.call(t, http.MethodGet, "/api/session", h, nil)
			if status != http.StatusOK {
				t.Fatalf("get session: %d", status)
			}
			if sessionField(t, body, "state") != "Failed" || sessionField(t, body, "committedState") != "MfaVerified" {
				t.Fatalf("expected Failed over MfaVerified: %v", body)
			}
			if sessionField(t, body, "lpaString") != nil {
				t.Fatalf("failed run must not persist outputs: %v", body)
			}
			failure, _ := sessionField(t, body, "failure").(map[string]any)
			if failure["step"] != "swap" {
				t.Fatalf("failure step not recorded: %v", failure)
			}

			status, body = s.call(t, http.MethodPost, "/api/flow/provision", h, nil)
			if status != http.StatusOK || sessionField(t, body, "lpaString") != carrierLPA {
				t.Fatalf("retry should provision: %d %v", status, body)
			}
			if s.carrier.count("reserve") != 2 {
				t.Fatalf("retry should re-run the reservation, got %d", s.carrier.count("reserve"))
			}
		})
	}
}

func TestGatewayPassthroughOverHTTP(t *testing.T) {
	mode := redisModes(t)[0]
	rdb, cleanup := mode.setup(t)
	defer cleanup()

	s := newStack(t, rdb, nil)

	status, body := s.call(t, http.MethodPost, "/api/token-exchange", "", map[string]string{
		"code":          "auth-code",
		"code_verifier": "verifier-0123456789-0123456789-0123456789",
		"redirect_uri":  "giffgaff://auth/callback/",
	})
	if status != http.StatusOK || body["access_token"] != carrierAccessToken {
		t.Fatalf("token exchange: %d %v", status, body)
	}

	s.carrier.reject("token", http.StatusForbidden)
	status, body = s.call(t, http.MethodPost, "/api/token-exchange", "", map[string]string{
		"code":          "auth-code",
		"code_verifier": "verifier",
	})
	if status != http.StatusForbidden || body["error"] != "Token exchange failed" {
		t.Fatalf("expected carrier 403 passthrough, got %d %v", status, body)
	}

	status, body = s.call(t, http.MethodPost, "/api/verify-cookie", "", map[string]string{})
	if status != http.StatusBadRequest || body["error"] != "Missing cookie" {
		t.Fatalf("expected missing cookie rejection, got %d %v", status, body)
	}
	if s.carrier.count("cookie") != 0 {
		t.Fatal("validation failure must not call the carrier")
	}
}
