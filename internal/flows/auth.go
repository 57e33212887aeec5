package flows

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/esimflow/internal/upstream"
	"golang.org/x/oauth2"
)

// LoginAttemptRecord is the flow-local PKCE attempt model.
type LoginAttemptRecord struct {
	State       string
	Verifier    string
	RedirectURI string
	CreatedAt   int64
}

// LoginStart is returned by RunStartLogin.
type LoginStart struct {
	AuthURL  string
	State    string
	Verifier string
}

// LoginCompletion is the outcome of a successful callback.
type LoginCompletion struct {
	AccessToken string
	Token       *oauth2.Token
}

// CookieLogin is the outcome of a successful cookie probe.
type CookieLogin struct {
	Cookie      string
	AccessToken string
}

// AuthMetrics carries metric IDs needed by auth flows.
type AuthMetrics struct {
	LoginStarted       int
	LoginSuccess       int
	LoginFailure       int
	StateMismatch      int
	CookieLoginSuccess int
	CookieLoginFailure int
}

// AuthEvents carries audit event names used by auth flows.
type AuthEvents struct {
	LoginStarted       string
	LoginSuccess       string
	LoginFailure       string
	CookieLoginSuccess string
	CookieLoginFailure string
}

// AuthErrors carries host-level sentinel errors used by auth flows.
type AuthErrors struct {
	EngineNotReady      error
	MissingInput        error
	InvalidCallback     error
	StateMismatch       error
	TokenExchangeFailed error
	InvalidCookie       error
}

// AuthDeps captures PKCE and cookie login dependencies.
type AuthDeps struct {
	OAuth      *oauth2.Config
	AttemptTTL time.Duration

	Now          func() time.Time
	NewState     func() (string, error)
	NewVerifier  func() string
	SaveAttempt  func(context.Context, string, *LoginAttemptRecord, time.Duration) error
	TakeAttempt  func(context.Context, string) (*LoginAttemptRecord, error)
	IsNoAttempt  func(error) bool
	ExchangeCode func(ctx context.Context, code, verifier, redirectURI string) (*upstream.TokenResult, error)
	ProbeCookie  func(ctx context.Context, cookie string) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics AuthMetrics
	Events  AuthEvents
	Errors  AuthErrors
}

func (d *AuthDeps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewVerifier == nil {
		d.NewVerifier = oauth2.GenerateVerifier
	}
	if d.MetricInc == nil {
		d.MetricInc = noopMetric
	}
	if d.EmitAudit == nil {
		d.EmitAudit = noopAudit
	}
	if d.IsNoAttempt == nil {
		d.IsNoAttempt = func(error) bool { return false }
	}
}

// RunStartLogin creates a PKCE verifier and state, stores them against
// sessionID, and returns the authorization URL.
func RunStartLogin(ctx context.Context, sessionID string, deps AuthDeps) (*LoginStart, error) {
	deps.defaults()
	if deps.OAuth == nil || deps.NewState == nil || deps.SaveAttempt == nil {
		return nil, deps.Errors.EngineNotReady
	}

	state, err := deps.NewState()
	if err != nil {
		return nil, err
	}
	verifier := deps.NewVerifier()

	attempt := &LoginAttemptRecord{
		State:       state,
		Verifier:    verifier,
		RedirectURI: deps.OAuth.RedirectURL,
		CreatedAt:   deps.Now().Unix(),
	}
	if err := deps.SaveAttempt(ctx, sessionID, attempt, deps.AttemptTTL); err != nil {
		return nil, err
	}

	authURL := deps.OAuth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	deps.MetricInc(deps.Metrics.LoginStarted)
	deps.EmitAudit(ctx, deps.Events.LoginStarted, true, sessionID, nil, nil)

	return &LoginStart{
		AuthURL:  authURL,
		State:    state,
		Verifier: verifier,
	}, nil
}

// ParseCallback extracts code and state from a redirect URL. An error
// parameter returned by the authorization server is reported as an
// invalid callback.
func ParseCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(strings.TrimSpace(callbackURL))
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		if desc := q.Get("error_description"); desc != "" {
			return "", "", errors.New(e + ": " + desc)
		}
		return "", "", errors.New(e)
	}
	code, state = q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return "", "", errors.New("missing code or state")
	}
	return code, state, nil
}

// RunCompleteLogin validates the callback against the stored attempt and
// exchanges the code. The stored attempt is consumed whatever the outcome.
func RunCompleteLogin(ctx context.Context, sessionID, callbackURL string, deps AuthDeps) (*LoginCompletion, error) {
	deps.defaults()
	if deps.TakeAttempt == nil || deps.ExchangeCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	code, state, err := ParseCallback(callbackURL)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, sessionID, deps.Errors.InvalidCallback, func() map[string]string {
			return map[string]string{"reason": "invalid_callback"}
		})
		return nil, upstream.Validation(upstream.OpTokenExchange, err.Error(), deps.Errors.InvalidCallback)
	}

	attempt, err := deps.TakeAttempt(ctx, sessionID)
	if err != nil {
		if !deps.IsNoAttempt(err) {
			return nil, err
		}
		attempt = nil
	}
	if attempt == nil || subtle.ConstantTimeCompare([]byte(attempt.State), []byte(state)) != 1 {
		deps.MetricInc(deps.Metrics.StateMismatch)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, sessionID, deps.Errors.StateMismatch, func() map[string]string {
			return map[string]string{"reason": "state_mismatch"}
		})
		return nil, deps.Errors.StateMismatch
	}

	res, err := deps.ExchangeCode(ctx, code, attempt.Verifier, attempt.RedirectURI)
	if err != nil {
		ue := upstream.Classify(upstream.OpTokenExchange, err, deps.Errors.TokenExchangeFailed)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, sessionID, deps.Errors.TokenExchangeFailed, func() map[string]string {
			return map[string]string{"reason": ue.Kind.String()}
		})
		return nil, ue
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, sessionID, nil, func() map[string]string {
		return map[string]string{"method": "pkce"}
	})

	return &LoginCompletion{
		AccessToken: res.Token.AccessToken,
		Token:       res.Token,
	}, nil
}

// RunExchangeCode performs a bare token exchange for callers that manage
// PKCE material themselves.
func RunExchangeCode(ctx context.Context, code, verifier, redirectURI string, deps AuthDeps) (*upstream.TokenResult, error) {
	deps.defaults()
	if deps.ExchangeCode == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if code == "" || verifier == "" {
		return nil, upstream.Validation(upstream.OpTokenExchange, "Missing code or code_verifier", deps.Errors.MissingInput)
	}

	res, err := deps.ExchangeCode(ctx, code, verifier, redirectURI)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return nil, upstream.Classify(upstream.OpTokenExchange, err, deps.Errors.TokenExchangeFailed)
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	return res, nil
}

// RunCookieLogin probes cookie upstream and derives the access token from
// it. The token is a reversible base64 encoding of the cookie.
func RunCookieLogin(ctx context.Context, sessionID, cookie string, deps AuthDeps) (*CookieLogin, error) {
	deps.defaults()
	if deps.ProbeCookie == nil {
		return nil, deps.Errors.EngineNotReady
	}
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return nil, upstream.Validation(upstream.OpVerifyCookie, "Missing cookie", deps.Errors.MissingInput)
	}

	if err := deps.ProbeCookie(ctx, cookie); err != nil {
		ue := upstream.Classify(upstream.OpVerifyCookie, err, deps.Errors.InvalidCookie)
		if ue.Kind == upstream.KindSemantic {
			ue.Message = "Invalid cookie"
		}
		deps.MetricInc(deps.Metrics.CookieLoginFailure)
		deps.EmitAudit(ctx, deps.Events.CookieLoginFailure, false, sessionID, deps.Errors.InvalidCookie, func() map[string]string {
			return map[string]string{"reason": ue.Kind.String()}
		})
		return nil, ue
	}

	deps.MetricInc(deps.Metrics.CookieLoginSuccess)
	deps.EmitAudit(ctx, deps.Events.CookieLoginSuccess, true, sessionID, nil, func() map[string]string {
		return map[string]string{"method": "cookie"}
	})

	return &CookieLogin{
		Cookie:      cookie,
		AccessToken: base64.StdEncoding.EncodeToString([]byte(cookie)),
	}, nil
}
