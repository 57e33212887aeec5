package esimflow

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func ed25519PEM(t *testing.T) (string, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
}

func buildWithHandles(t *testing.T, rdb *redis.Client, mutate func(*HandleConfig)) *Engine {
	t.Helper()
	cfg := testConfig()
	mutate(&cfg.Handle)
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithCaller(newFakeCarrier()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func handleHeader(t *testing.T, handle string) map[string]any {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(strings.SplitN(handle, ".", 2)[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	return header
}

func TestBuilderEd25519Handles(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	privPEM, pubPEM := ed25519PEM(t)
	engine := buildWithHandles(t, rdb, func(h *HandleConfig) {
		h.SigningMethod = "ed25519"
		h.SigningKey = privPEM
		h.PublicKey = pubPEM
		h.KeyID = "k1"
	})

	view, handle, err := engine.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	header := handleHeader(t, handle)
	if header["alg"] != "EdDSA" || header["kid"] != "k1" {
		t.Fatalf("unexpected handle header %v", header)
	}
	sid, err := engine.ResolveSessionHandle(handle)
	if err != nil || sid != view.ID {
		t.Fatalf("resolve: sid=%q err=%v", sid, err)
	}

	rotated := buildWithHandles(t, rdb, func(h *HandleConfig) {
		h.SigningMethod = "ed25519"
		h.SigningKey = privPEM
		h.PublicKey = pubPEM
		h.KeyID = "k2"
	})
	if _, err := rotated.ResolveSessionHandle(handle); !errors.Is(err, ErrInvalidSessionHandle) {
		t.Fatalf("expected kid mismatch rejected, got %v", err)
	}

	shared := buildWithHandles(t, rdb, func(*HandleConfig) {})
	if _, err := shared.ResolveSessionHandle(handle); !errors.Is(err, ErrInvalidSessionHandle) {
		t.Fatalf("expected hs256 engine to reject an EdDSA handle, got %v", err)
	}
	_, hsHandle, err := shared.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if alg := handleHeader(t, hsHandle)["alg"]; alg != "HS256" {
		t.Fatalf("expected HS256 by default, got %v", alg)
	}
	if _, err := engine.ResolveSessionHandle(hsHandle); !errors.Is(err, ErrInvalidSessionHandle) {
		t.Fatalf("expected EdDSA engine to reject an HS256 handle, got %v", err)
	}
}

func TestBuilderRejectsBadEd25519Key(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Handle.SigningMethod = "ed25519"
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected a shared secret to be rejected as an ed25519 key")
	}
}
