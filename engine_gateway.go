package esimflow

import (
	"context"
)

// The gateway operations below are the stateless proxy surface: each one
// maps to a single carrier call, takes its credentials from the caller and
// touches no session. They are not gated by the service window.

// ExchangeToken exchanges an authorization code and PKCE verifier. The
// carrier's token response is returned unchanged.
func (e *Engine) ExchangeToken(ctx context.Context, code, verifier, redirectURI string) (map[string]any, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flows.ExchangeCode(ctx, code, verifier, redirectURI)
	if err != nil {
		return nil, err
	}
	return res.Raw, nil
}

// VerifyCookie probes cookie and returns the access token derived from it.
func (e *Engine) VerifyCookie(ctx context.Context, cookie string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	res, err := e.flows.CookieLogin(ctx, "", cookie)
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// MFAChallenge sends a one-time code and returns the challenge ref. Sends
// are throttled per client IP.
func (e *Engine) MFAChallenge(ctx context.Context, accessToken, channel string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.SendChallenge(ctx, "", accessToken, channel)
}

// MFAVerify submits code for ref and returns the MFA signature.
func (e *Engine) MFAVerify(ctx context.Context, accessToken, ref, code string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.flows.VerifyCode(ctx, "", accessToken, ref, code)
}

// MemberInfo returns the member profile. signature may be empty.
func (e *Engine) MemberInfo(ctx context.Context, accessToken, signature string) (*Member, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.MemberLookup(ctx, "", accessToken, signature)
}

// RequestESim runs the three provisioning steps for memberID and returns
// the artifact. A failure names the failing step.
func (e *Engine) RequestESim(ctx context.Context, accessToken, signature, memberID string) (*Artifact, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.flows.Provision(ctx, "", accessToken, signature, memberID)
}
