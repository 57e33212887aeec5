package esimflow

import (
	"errors"
	"strings"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding of [Config.Lint].
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of findings returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns
// nil when there is none.
func (r LintResult) AsError(min LintSeverity) error {
	ws := r.BySeverity(min)
	if len(ws) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(ws))
	for _, w := range ws {
		msgs = append(msgs, w.Severity.String()+" "+w.Code+": "+w.Message)
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that pass Validate but are risky or surprising
// for a deployment. cmd/esimflowd logs the result at start-up.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.OAuth.ClientSecret == "" {
		add("client_secret_missing", LintHigh, "token exchange will be rejected without an OAuth client secret")
	}
	if c.Handle.usesSharedSecret() && c.Handle.SigningKey != "" && len(c.Handle.SigningKey) < 32 {
		add("signing_key_short", LintHigh, "session handle signing key is shorter than 32 bytes")
	}
	if !c.Handle.SecureCookies {
		add("insecure_cookies", LintWarn, "session handle cookie is sent without the Secure flag")
	}
	if c.Handle.TTL > c.Session.TTL {
		add("handle_outlives_session", LintInfo, "session handles stay valid after the session expired")
	}
	if !c.Window.Enabled {
		add("window_disabled", LintWarn, "carrier operations are allowed outside the service window")
	}
	if !c.Security.EnableIPThrottle {
		add("ip_throttle_disabled", LintWarn, "mfa challenge sends are only throttled per session")
	}
	if c.Cache.LRUEnabled {
		add("session_cache_enabled", LintInfo, "session reads may be served from a cache up to Cache.TTL old")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "no audit events will be produced")
	}
	for _, origin := range c.HTTP.AllowedOrigins {
		if origin == "*" {
			add("cors_wildcard", LintWarn, "any origin may call the HTTP API with credentials")
			break
		}
	}

	return ws
}
