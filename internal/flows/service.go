package flows

import (
	"context"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Auth.ExchangeCode != nil &&
		s.deps.MFA.SendChallenge != nil &&
		s.deps.Provision.ReserveESim != nil
}

func (s Service) StartLogin(ctx context.Context, sessionID string) (*LoginStart, error) {
	return RunStartLogin(ctx, sessionID, s.deps.Auth)
}

func (s Service) CompleteLogin(ctx context.Context, sessionID, callbackURL string) (*LoginCompletion, error) {
	return RunCompleteLogin(ctx, sessionID, callbackURL, s.deps.Auth)
}

func (s Service) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*upstream.TokenResult, error) {
	return RunExchangeCode(ctx, code, verifier, redirectURI, s.deps.Auth)
}

func (s Service) CookieLogin(ctx context.Context, sessionID, cookie string) (*CookieLogin, error) {
	return RunCookieLogin(ctx, sessionID, cookie, s.deps.Auth)
}

func (s Service) SendChallenge(ctx context.Context, sessionID, accessToken, channel string) (string, error) {
	return RunSendChallenge(ctx, sessionID, accessToken, channel, s.deps.MFA)
}

func (s Service) VerifyCode(ctx context.Context, sessionID, accessToken, ref, code string) (string, error) {
	return RunVerifyCode(ctx, sessionID, accessToken, ref, code, s.deps.MFA)
}

func (s Service) MemberLookup(ctx context.Context, sessionID, accessToken, signature string) (*upstream.Member, error) {
	return RunMemberLookup(ctx, sessionID, accessToken, signature, s.deps.MFA)
}

func (s Service) Provision(ctx context.Context, sessionID, accessToken, signature, memberID string) (*Artifact, error) {
	return RunProvision(ctx, sessionID, accessToken, signature, memberID, s.deps.Provision)
}
