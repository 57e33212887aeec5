package esimflow

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/esimflow/internal/upstream"
)

const (
	// provisionSteps is the number of sequential carrier calls in one
	// provisioning run.
	provisionSteps = 3
	// inFlightMargin covers the Redis round trips around a provisioning run.
	inFlightMargin = 10 * time.Second
)

// Config is the complete engine configuration. Obtain a populated value
// from DefaultConfig or LoadConfig and adjust fields before passing it to
// Builder.WithConfig.
type Config struct {
	Session  SessionConfig  `yaml:"session" envconfig:"SESSION"`
	Upstream UpstreamConfig `yaml:"upstream" envconfig:"UPSTREAM"`
	OAuth    OAuthConfig    `yaml:"oauth" envconfig:"OAUTH"`
	Window   WindowConfig   `yaml:"window" envconfig:"WINDOW"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Cache    CacheConfig    `yaml:"cache" envconfig:"CACHE"`
	Audit    AuditConfig    `yaml:"audit" envconfig:"AUDIT"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Handle   HandleConfig   `yaml:"handle" envconfig:"HANDLE"`
	HTTP     HTTPConfig     `yaml:"http" envconfig:"HTTP"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session persistence and the transient stores
// that hang off a session.
type SessionConfig struct {
	RedisPrefix       string        `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
	TTL               time.Duration `yaml:"ttl" envconfig:"TTL"`
	SlidingExpiration bool          `yaml:"sliding_expiration" envconfig:"SLIDING_EXPIRATION"`
	LoginAttemptTTL   time.Duration `yaml:"login_attempt_ttl" envconfig:"LOGIN_ATTEMPT_TTL"`
	ChallengeRefTTL   time.Duration `yaml:"challenge_ref_ttl" envconfig:"CHALLENGE_REF_TTL"`
	InFlightTimeout   time.Duration `yaml:"in_flight_timeout" envconfig:"IN_FLIGHT_TIMEOUT"`
}

/*
====================================
UPSTREAM CONFIG
====================================
*/

// UpstreamConfig names the carrier endpoints and the HTTP behaviour used
// to reach them. Profiles overrides individual header values of the
// mobile-app and browser profiles.
type UpstreamConfig struct {
	TokenURL         string                       `yaml:"token_url" envconfig:"TOKEN_URL"`
	GraphQLURL       string                       `yaml:"graphql_url" envconfig:"GRAPHQL_URL"`
	MFAChallengeURL  string                       `yaml:"mfa_challenge_url" envconfig:"MFA_CHALLENGE_URL"`
	MFAValidationURL string                       `yaml:"mfa_validation_url" envconfig:"MFA_VALIDATION_URL"`
	MFASource        string                       `yaml:"mfa_source" envconfig:"MFA_SOURCE"`
	Timeout          time.Duration                `yaml:"timeout" envconfig:"TIMEOUT"`
	Profiles         map[string]map[string]string `yaml:"profiles" ignored:"true"`
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig identifies this deployment to the authorization server.
// ClientSecret is expected from the environment.
type OAuthConfig struct {
	AuthURL      string   `yaml:"auth_url" envconfig:"AUTH_URL"`
	ClientID     string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url" envconfig:"REDIRECT_URL"`
	Scopes       []string `yaml:"scopes" envconfig:"SCOPES"`
}

/*
====================================
WINDOW CONFIG
====================================
*/

// WindowConfig controls the service window gate. Start and End are
// offsets from civil midnight in UK time, both inclusive.
type WindowConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	Start   time.Duration `yaml:"start" envconfig:"START"`
	End     time.Duration `yaml:"end" envconfig:"END"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls challenge throttling and production hardening.
type SecurityConfig struct {
	ProductionMode    bool          `yaml:"production_mode" envconfig:"PRODUCTION_MODE"`
	EnableIPThrottle  bool          `yaml:"enable_ip_throttle" envconfig:"ENABLE_IP_THROTTLE"`
	MaxChallengeSends int           `yaml:"max_challenge_sends" envconfig:"MAX_CHALLENGE_SENDS"`
	ChallengeCooldown time.Duration `yaml:"challenge_cooldown" envconfig:"CHALLENGE_COOLDOWN"`
}

// CacheConfig controls the optional in-process read cache of decoded
// sessions.
type CacheConfig struct {
	LRUEnabled bool          `yaml:"lru_enabled" envconfig:"LRU_ENABLED"`
	Size       int           `yaml:"size" envconfig:"SIZE"`
	TTL        time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" envconfig:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" envconfig:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" envconfig:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" envconfig:"ENABLE_LATENCY_HISTOGRAMS"`
}

// LoggingConfig selects the logrus level and formatter used by the daemon.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // "text" (default) or "json"
}

// HandleConfig controls the signed session handles given to HTTP clients.
// SigningKey is expected from the environment.
type HandleConfig struct {
	SigningKey    string        `yaml:"signing_key" envconfig:"SIGNING_KEY"`
	// SigningMethod is "hs256" (shared secret) or "ed25519". With ed25519
	// SigningKey holds the PEM or raw private key and PublicKey, when set,
	// pins the verification key.
	SigningMethod string        `yaml:"signing_method" envconfig:"SIGNING_METHOD"`
	PublicKey     string        `yaml:"public_key" envconfig:"PUBLIC_KEY"`
	// KeyID is written to the kid header and required on parse when set.
	KeyID         string        `yaml:"key_id" envconfig:"KEY_ID"`
	Issuer        string        `yaml:"issuer" envconfig:"ISSUER"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL"`
	Leeway        time.Duration `yaml:"leeway" envconfig:"LEEWAY"`
	MaxFutureIAT  time.Duration `yaml:"max_future_iat" envconfig:"MAX_FUTURE_IAT"`
	CookieName    string        `yaml:"cookie_name" envconfig:"COOKIE_NAME"`
	SecureCookies bool          `yaml:"secure_cookies" envconfig:"SECURE_COOKIES"`
}

// HTTPConfig controls the HTTP surface served by cmd/esimflowd.
type HTTPConfig struct {
	Addr           string   `yaml:"addr" envconfig:"ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	// TrustForwardedFor takes the client IP from X-Forwarded-For. Enable
	// only behind a proxy that overwrites the header.
	TrustForwardedFor bool          `yaml:"trust_forwarded_for" envconfig:"TRUST_FORWARDED_FOR"`
	ReadTimeout       time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns the configuration for the public carrier
// endpoints. It carries no client secret and no handle signing key; both
// must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:       "efs",
			TTL:               24 * time.Hour,
			SlidingExpiration: true,
			LoginAttemptTTL:   10 * time.Minute,
			ChallengeRefTTL:   15 * time.Minute,
			InFlightTimeout:   2 * time.Minute,
		},
		Upstream: UpstreamConfig{
			TokenURL:         "https://id.giffgaff.com/auth/oauth/token",
			GraphQLURL:       "https://publicapi.giffgaff.com/gateway/graphql",
			MFAChallengeURL:  "https://id.giffgaff.com/v4/mfa/challenge/me",
			MFAValidationURL: "https://id.giffgaff.com/v4/mfa/validation",
			MFASource:        "esim",
			Timeout:          30 * time.Second,
		},
		OAuth: OAuthConfig{
			AuthURL:     "https://id.giffgaff.com/oauth/authorize",
			ClientID:    "4a05bf219b3985647d9b9a3ba610a9ce",
			RedirectURL: "giffgaff://auth/callback/",
			Scopes:      []string{"read"},
		},
		Window: WindowConfig{
			Enabled: true,
			Start:   4*time.Hour + 30*time.Minute,
			End:     21*time.Hour + 30*time.Minute,
		},
		Security: SecurityConfig{
			EnableIPThrottle:  true,
			MaxChallengeSends: 5,
			ChallengeCooldown: 15 * time.Minute,
		},
		Cache: CacheConfig{
			Size: 1024,
			TTL:  5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Handle: HandleConfig{
			SigningMethod: "hs256",
			Issuer:        "esimflow",
			TTL:           24 * time.Hour,
			Leeway:        30 * time.Second,
			MaxFutureIAT:  10 * time.Minute,
			CookieName:    "esimflow_session",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.OAuth.Scopes = append([]string(nil), cfg.OAuth.Scopes...)
	out.HTTP.AllowedOrigins = append([]string(nil), cfg.HTTP.AllowedOrigins...)
	if cfg.Upstream.Profiles != nil {
		out.Upstream.Profiles = make(map[string]map[string]string, len(cfg.Upstream.Profiles))
		for name, headers := range cfg.Upstream.Profiles {
			cp := make(map[string]string, len(headers))
			for k, v := range headers {
				cp[k] = v
			}
			out.Upstream.Profiles[name] = cp
		}
	}
	return out
}

// Validate checks cross-field rules. Build calls it; callers loading
// configuration from files may call it earlier to fail fast.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.LoginAttemptTTL <= 0 {
		return errors.New("Session LoginAttemptTTL must be > 0")
	}
	if c.Session.ChallengeRefTTL <= 0 {
		return errors.New("Session ChallengeRefTTL must be > 0")
	}
	if c.Session.InFlightTimeout <= 0 {
		return errors.New("Session InFlightTimeout must be > 0")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, " :") {
		return errors.New("Session RedisPrefix must not contain spaces or colons")
	}

	if c.Upstream.TokenURL == "" || c.Upstream.GraphQLURL == "" ||
		c.Upstream.MFAChallengeURL == "" || c.Upstream.MFAValidationURL == "" {
		return errors.New("Upstream endpoints are required")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("Upstream Timeout must be > 0")
	}
	if c.Session.InFlightTimeout < provisionSteps*c.Upstream.Timeout+inFlightMargin {
		return errors.New("Session InFlightTimeout must cover three Upstream Timeouts plus " + inFlightMargin.String())
	}
	for name := range c.Upstream.Profiles {
		if !upstream.Profile(name).Valid() {
			return errors.New("Upstream Profiles contains unknown profile " + name)
		}
	}

	if c.OAuth.AuthURL == "" || c.OAuth.ClientID == "" || c.OAuth.RedirectURL == "" {
		return errors.New("OAuth AuthURL, ClientID and RedirectURL are required")
	}

	if c.Window.Enabled {
		if c.Window.Start < 0 || c.Window.End >= 24*time.Hour || c.Window.Start > c.Window.End {
			return errors.New("Window bounds must satisfy 0 <= Start <= End < 24h")
		}
	}

	if c.Security.MaxChallengeSends <= 0 {
		return errors.New("Security MaxChallengeSends must be > 0")
	}
	if c.Security.ChallengeCooldown <= 0 {
		return errors.New("Security ChallengeCooldown must be > 0")
	}

	if c.Cache.LRUEnabled {
		if c.Cache.Size <= 0 {
			return errors.New("Cache Size must be > 0 when LRU is enabled")
		}
		if c.Cache.TTL <= 0 {
			return errors.New("Cache TTL must be > 0 when LRU is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.New("Logging Format must be 'text' or 'json'")
	}

	if c.Handle.SigningKey == "" {
		return errors.New("Handle SigningKey is required")
	}
	switch strings.ToLower(c.Handle.SigningMethod) {
	case "", "hs256", "ed25519":
	default:
		return errors.New("Handle SigningMethod must be 'hs256' or 'ed25519'")
	}
	if c.Handle.TTL <= 0 {
		return errors.New("Handle TTL must be > 0")
	}
	if c.Handle.Leeway < 0 || c.Handle.Leeway > 2*time.Minute {
		return errors.New("Handle Leeway must be between 0 and 2m")
	}
	if c.Handle.MaxFutureIAT < 0 || c.Handle.MaxFutureIAT > 24*time.Hour {
		return errors.New("Handle MaxFutureIAT must be between 0 and 24h")
	}
	if c.Handle.CookieName == "" {
		return errors.New("Handle CookieName is required")
	}

	if c.Security.ProductionMode {
		if c.OAuth.ClientSecret == "" {
			return errors.New("ProductionMode requires OAuth ClientSecret")
		}
		if c.Handle.usesSharedSecret() && len(c.Handle.SigningKey) < 32 {
			return errors.New("ProductionMode requires Handle SigningKey >= 32 bytes")
		}
		if !c.Handle.SecureCookies {
			return errors.New("ProductionMode requires Handle SecureCookies")
		}
	}

	return nil
}

func (h HandleConfig) usesSharedSecret() bool {
	return h.SigningMethod == "" || strings.EqualFold(h.SigningMethod, "hs256")
}
