package esimflow

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigFlagsMissingSecrets(t *testing.T) {
	cfg := defaultConfig()
	codes := cfg.Lint().Codes()

	if !containsCode(codes, "client_secret_missing") {
		t.Error("default config carries no client secret and should say so")
	}
	if containsCode(codes, "window_disabled") {
		t.Error("default config keeps the service window enabled")
	}
	if containsCode(codes, "ip_throttle_disabled") {
		t.Error("default config keeps ip throttling enabled")
	}
}

func TestLint_ProductionLikeConfigHasNoHighFindings(t *testing.T) {
	cfg := testConfig()
	cfg.Handle.SecureCookies = true
	cfg.Audit.Enabled = true

	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("unexpected HIGH findings: %v", err)
	}
	if err := cfg.Lint().AsError(LintWarn); err != nil {
		t.Fatalf("unexpected WARN findings: %v", err)
	}
}

func TestLint_ShortSigningKey(t *testing.T) {
	cfg := testConfig()
	cfg.Handle.SigningKey = "short"
	if !containsCode(cfg.Lint().Codes(), "signing_key_short") {
		t.Error("expected signing_key_short warning")
	}
}

func TestLint_WindowDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Window.Enabled = false
	if !containsCode(cfg.Lint().Codes(), "window_disabled") {
		t.Error("expected window_disabled warning")
	}
}

func TestLint_CORSWildcard(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.AllowedOrigins = []string{"https://app.example", "*"}
	if !containsCode(cfg.Lint().Codes(), "cors_wildcard") {
		t.Error("expected cors_wildcard warning")
	}
}

func TestLint_HandleOutlivesSession(t *testing.T) {
	cfg := testConfig()
	cfg.Handle.TTL = 48 * time.Hour
	ws := cfg.Lint()
	for _, w := range ws {
		if w.Code == "handle_outlives_session" && w.Severity != LintInfo {
			t.Errorf("handle_outlives_session should be INFO, got %s", w.Severity)
		}
	}
	if !containsCode(ws.Codes(), "handle_outlives_session") {
		t.Error("expected handle_outlives_session warning")
	}
}

func TestLint_BySeverity(t *testing.T) {
	cfg := defaultConfig()
	cfg.Handle.SigningKey = "short"
	ws := cfg.Lint()

	high := ws.BySeverity(LintHigh)
	if len(high) < 2 {
		t.Fatalf("expected client secret and key findings, got %v", high.Codes())
	}
	for _, w := range high {
		if w.Severity < LintHigh {
			t.Errorf("BySeverity(LintHigh) returned warning with severity %s", w.Severity)
		}
	}
	if err := ws.AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to fail")
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
