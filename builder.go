package esimflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/esimflow/internal"
	internalaudit "github.com/MrEthical07/esimflow/internal/audit"
	"github.com/MrEthical07/esimflow/internal/flows"
	"github.com/MrEthical07/esimflow/internal/rate"
	"github.com/MrEthical07/esimflow/internal/stores"
	"github.com/MrEthical07/esimflow/internal/upstream"
	"github.com/MrEthical07/esimflow/internal/window"
	"github.com/MrEthical07/esimflow/jwt"
	"github.com/MrEthical07/esimflow/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Builder assembles an [Engine]. A Builder is configured once during
// start-up and may only be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	caller     upstream.Caller
	httpClient *http.Client
	logger     *logrus.Logger
	auditSink  AuditSink
	clock      func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, login attempts,
// challenge refs, locks and rate counters. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCaller replaces the HTTP transport to the carrier. Tests use it to
// serve canned responses.
func (b *Builder) WithCaller(caller upstream.Caller) *Builder {
	b.caller = caller
	return b
}

// WithHTTPClient sets the client used by the default carrier transport.
// Ignored when WithCaller is set.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink audit events are dispatched to. Events are
// only produced when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source used for the service window,
// timestamps and login attempts.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	var win *window.Window
	if cfg.Window.Enabled {
		wc := window.UK()
		wc.Start = cfg.Window.Start
		wc.End = cfg.Window.End
		w, err := window.New(wc)
		if err != nil {
			return nil, fmt.Errorf("service window: %w", err)
		}
		win = w
	}

	var publicKey []byte
	if cfg.Handle.PublicKey != "" {
		publicKey = []byte(cfg.Handle.PublicKey)
	}
	handles, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Handle.TTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Handle.SigningMethod)),
		PrivateKey:    []byte(cfg.Handle.SigningKey),
		PublicKey:     publicKey,
		Issuer:        cfg.Handle.Issuer,
		Leeway:        cfg.Handle.Leeway,
		MaxFutureIAT:  cfg.Handle.MaxFutureIAT,
		KeyID:         cfg.Handle.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("session handles: %w", err)
	}

	sessions := session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL, cfg.Session.SlidingExpiration)
	if cfg.Cache.LRUEnabled {
		sessions.EnableCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	e := &Engine{
		config:       cfg,
		logger:       logger,
		now:          now,
		sessionStore: sessions,
		attempts:     stores.NewLoginAttemptStore(b.redis, cfg.Session.RedisPrefix+":login"),
		refs:         stores.NewChallengeRefStore(b.redis, cfg.Session.RedisPrefix+":ref"),
		locks:        stores.NewLockStore(b.redis, cfg.Session.RedisPrefix+":lock"),
		rateLimiter: rate.New(b.redis, rate.Config{
			EnableIPThrottle:  cfg.Security.EnableIPThrottle,
			MaxChallengeSends: cfg.Security.MaxChallengeSends,
			ChallengeCooldown: cfg.Security.ChallengeCooldown,
		}),
		window:  win,
		handles: handles,
		metrics: NewMetrics(cfg.Metrics),
	}

	caller := b.caller
	if caller == nil {
		client := b.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Upstream.Timeout}
		}
		caller = upstream.NewHTTPCaller(client, upstream.DefaultProfiles().Merge(cfg.Upstream.Profiles), logger)
	}
	e.client = upstream.NewClient(caller,
		upstream.Endpoints{
			TokenURL:         cfg.Upstream.TokenURL,
			GraphQLURL:       cfg.Upstream.GraphQLURL,
			MFAChallengeURL:  cfg.Upstream.MFAChallengeURL,
			MFAValidationURL: cfg.Upstream.MFAValidationURL,
		},
		upstream.Credentials{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		},
		cfg.Upstream.MFASource,
		e.observeUpstream,
	)

	e.flows = flows.New(e.flowDeps())
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	b.built = true
	logger.WithFields(logrus.Fields{
		"window_enabled": cfg.Window.Enabled,
		"audit_enabled":  cfg.Audit.Enabled,
		"cache_enabled":  cfg.Cache.LRUEnabled,
	}).Debug("engine built")

	return e, nil
}

// flowDeps binds the flow packages to the engine's stores, carrier client
// and instrumentation.
func (e *Engine) flowDeps() flows.Deps {
	cfg := e.config
	metricInc := func(id int) { e.metricInc(MetricID(id)) }

	return flows.Deps{
		Auth: flows.AuthDeps{
			OAuth: &oauth2.Config{
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  cfg.OAuth.AuthURL,
					TokenURL: cfg.Upstream.TokenURL,
				},
				RedirectURL: cfg.OAuth.RedirectURL,
				Scopes:      cfg.OAuth.Scopes,
			},
			AttemptTTL: cfg.Session.LoginAttemptTTL,
			Now:        e.now,
			NewState:   internal.NewState,
			SaveAttempt: func(ctx context.Context, sessionID string, rec *flows.LoginAttemptRecord, ttl time.Duration) error {
				return mapStoreError(e.attempts.Save(ctx, sessionID, &stores.LoginAttempt{
					State:       rec.State,
					Verifier:    rec.Verifier,
					RedirectURI: rec.RedirectURI,
					CreatedAt:   rec.CreatedAt,
				}, ttl))
			},
			TakeAttempt: func(ctx context.Context, sessionID string) (*flows.LoginAttemptRecord, error) {
				a, err := e.attempts.Take(ctx, sessionID)
				if err != nil {
					return nil, mapStoreError(err)
				}
				return &flows.LoginAttemptRecord{
					State:       a.State,
					Verifier:    a.Verifier,
					RedirectURI: a.RedirectURI,
					CreatedAt:   a.CreatedAt,
				}, nil
			},
			IsNoAttempt:  func(err error) bool { return errors.Is(err, stores.ErrLoginAttemptNotFound) },
			ExchangeCode: e.client.ExchangeCode,
			ProbeCookie:  e.client.ProbeCookie,
			MetricInc:    metricInc,
			EmitAudit:    e.flowAudit,
			Metrics: flows.AuthMetrics{
				LoginStarted:       int(MetricLoginStarted),
				LoginSuccess:       int(MetricLoginSuccess),
				LoginFailure:       int(MetricLoginFailure),
				StateMismatch:      int(MetricStateMismatch),
				CookieLoginSuccess: int(MetricCookieLoginSuccess),
				CookieLoginFailure: int(MetricCookieLoginFailure),
			},
			Events: flows.AuthEvents{
				LoginStarted:       auditEventLoginStarted,
				LoginSuccess:       auditEventLoginSuccess,
				LoginFailure:       auditEventLoginFailure,
				CookieLoginSuccess: auditEventCookieLoginSuccess,
				CookieLoginFailure: auditEventCookieLoginFailure,
			},
			Errors: flows.AuthErrors{
				EngineNotReady:      ErrEngineNotReady,
				MissingInput:        ErrMissingInput,
				InvalidCallback:     ErrInvalidCallback,
				StateMismatch:       ErrStateMismatch,
				TokenExchangeFailed: ErrTokenExchangeFailed,
				InvalidCookie:       ErrInvalidCookie,
			},
		},
		MFA: flows.MFADeps{
			RefTTL:        cfg.Session.ChallengeRefTTL,
			SendChallenge: e.client.SendChallenge,
			ValidateCode:  e.client.ValidateCode,
			MemberProfile: e.client.MemberProfile,
			IssueRef: func(ctx context.Context, sessionID, ref string, ttl time.Duration) error {
				return mapStoreError(e.refs.Issue(ctx, sessionID, ref, ttl))
			},
			ConsumeRef: func(ctx context.Context, sessionID, ref string) error {
				return mapStoreError(e.refs.Consume(ctx, sessionID, ref))
			},
			IsRefConsumed: func(err error) bool { return errors.Is(err, stores.ErrChallengeRefConsumed) },
			CheckRate: func(ctx context.Context, sessionID, ip string) error {
				return mapStoreError(e.rateLimiter.CheckChallenge(ctx, sessionID, ip))
			},
			IncrementRate: func(ctx context.Context, sessionID, ip string) error {
				return mapStoreError(e.rateLimiter.IncrementChallenge(ctx, sessionID, ip))
			},
			IsRateLimited:   func(err error) bool { return errors.Is(err, rate.ErrRateLimited) },
			ClientIPFromCtx: clientIPFromContext,
			MetricInc:       metricInc,
			EmitAudit:       e.flowAudit,
			Metrics: flows.MFAMetrics{
				ChallengeSent:       int(MetricMFAChallengeSent),
				ChallengeFailure:    int(MetricMFAChallengeFailure),
				VerifySuccess:       int(MetricMFAVerifySuccess),
				VerifyFailure:       int(MetricMFAVerifyFailure),
				ReplayRejected:      int(MetricMFAReplayRejected),
				MemberLookupFailure: int(MetricMemberLookupFailure),
				RateLimitHit:        int(MetricRateLimitHit),
			},
			Events: flows.MFAEvents{
				ChallengeSent:    auditEventMFAChallengeSent,
				ChallengeFailure: auditEventMFAChallengeFailure,
				VerifySuccess:    auditEventMFAVerifySuccess,
				VerifyFailure:    auditEventMFAVerifyFailure,
				ReplayRejected:   auditEventMFAReplayRejected,
				RateLimited:      auditEventMFAChallengeThrottle,
				MemberLookup:     auditEventMemberLookupFailure,
			},
			Errors: flows.MFAErrors{
				EngineNotReady:     ErrEngineNotReady,
				MissingInput:       ErrMissingInput,
				ChallengeFailed:    ErrChallengeFailed,
				VerificationFailed: ErrVerificationFailed,
				ChallengeConsumed:  ErrChallengeConsumed,
				RateLimited:        ErrChallengeRateLimited,
				MemberLookupFailed: ErrMemberLookupFailed,
			},
		},
		Provision: flows.ProvisionDeps{
			ReserveESim:   e.client.ReserveESim,
			SwapSim:       e.client.SwapSim,
			DownloadToken: e.client.ESimDownloadToken,
			BeforeStep:    e.extendSessionLock,
			StepTimeout:   e.config.Upstream.Timeout,
			OnStep: func(step string) {
				e.logger.WithField("step", step).Debug("provisioning step completed")
			},
			MetricInc: metricInc,
			EmitAudit: e.flowAudit,
			Metrics: flows.ProvisionMetrics{
				Started: int(MetricProvisionStarted),
				Success: int(MetricProvisionSuccess),
				Failure: int(MetricProvisionFailure),
			},
			Events: flows.ProvisionEvents{
				Success: auditEventProvisionSuccess,
				Failure: auditEventProvisionFailure,
			},
			Errors: flows.ProvisionErrors{
				EngineNotReady:     ErrEngineNotReady,
				MissingInput:       ErrMissingInput,
				ProvisioningFailed: ErrProvisioningFailed,
			},
		},
	}
}
