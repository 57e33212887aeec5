package esimflow

import (
	"strings"
	"testing"
)

func productionConfig() Config {
	cfg := testConfig()
	cfg.Security.ProductionMode = true
	cfg.Handle.SecureCookies = true
	return cfg
}

func TestConfigValidateProductionAcceptsHardenedConfig(t *testing.T) {
	cfg := productionConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected hardened config to validate, got %v", err)
	}
}

func TestConfigValidateProductionRequiresClientSecret(t *testing.T) {
	cfg := productionConfig()
	cfg.OAuth.ClientSecret = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ClientSecret") {
		t.Fatalf("expected missing client secret rejection, got %v", err)
	}
}

func TestConfigValidateProductionRejectsWeakSigningKey(t *testing.T) {
	cfg := productionConfig()
	cfg.Handle.SigningKey = "weak-key"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("expected weak key rejection, got %v", err)
	}
}

func TestConfigValidateProductionRequiresSecureCookies(t *testing.T) {
	cfg := productionConfig()
	cfg.Handle.SecureCookies = false

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SecureCookies") {
		t.Fatalf("expected insecure cookie rejection, got %v", err)
	}
}

func TestDefaultConfigHasNoEmbeddedSecrets(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OAuth.ClientSecret != "" {
		t.Fatal("default config must not carry a client secret")
	}
	if cfg.Handle.SigningKey != "" {
		t.Fatal("default config must not carry a signing key")
	}
}
