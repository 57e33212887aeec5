//go:build integration
// +build integration

package test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/esimflow"
	"github.com/MrEthical07/esimflow/httpapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// redisMode describes which Redis backend a suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the Redis backends to test. miniredis is always
// available. REDIS_ADDR adds a standalone server and REDIS_CLUSTER_ADDRS
// (comma-separated) adds a cluster.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

const (
	carrierClientSecret = "integration-client-secret"
	carrierAccessToken  = "carrier-access-token"
	carrierCode         = "123456"
	carrierRef          = "ref-1"
	carrierSignature    = "sig-1"
	carrierSSN          = "8944000000000000001"
	carrierActivation   = "ABC123"
	carrierLPA          = "LPA:1$smdp.example$MATCH-1"
)

// carrierServer emulates the carrier's token, MFA and GraphQL endpoints
// over real HTTP.
type carrierServer struct {
	*httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	rejectOps map[string]int

	lastVerifier atomic.Value
}

func newCarrierServer(t *testing.T) *carrierServer {
	t.Helper()

	c := &carrierServer{
		calls:     map[string]int{},
		rejectOps: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", c.token)
	mux.HandleFunc("/mfa/challenge", c.challenge)
	mux.HandleFunc("/mfa/validation", c.validation)
	mux.HandleFunc("/graphql", c.graphql)
	c.Server = httptest.NewServer(mux)
	t.Cleanup(c.Close)
	return c
}

// reject makes the next call to op answer with status.
func (c *carrierServer) reject(op string, status int) {
	c.mu.Lock()
	c.rejectOps[op] = status
	c.mu.Unlock()
}

func (c *carrierServer) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *carrierServer) record(w http.ResponseWriter, op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if status, ok := c.rejectOps[op]; ok {
		delete(c.rejectOps, op)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"rejected"}`)
		return false
	}
	return true
}

func (c *carrierServer) token(w http.ResponseWriter, r *http.Request) {
	if !c.record(w, "token") {
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user == "" || pass != carrierClientSecret {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("code_verifier") == "" || r.PostForm.Get("code") == "" {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}
	c.lastVerifier.Store(r.PostForm.Get("code_verifier"))
	writeCarrierJSON(w, map[string]any{
		"access_token": carrierAccessToken,
		"token_type":   "bearer",
		"expires_in":   3600,
		"scope":        "read",
	})
}

func (c *carrierServer) challenge(w http.ResponseWriter, r *http.Request) {
	if !c.record(w, "challenge") {
		return
	}
	if !hasBearer(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var body struct {
		Source            string   `json:"source"`
		PreferredChannels []string `json:"preferredChannels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.PreferredChannels) != 1 {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	writeCarrierJSON(w, map[string]string{"ref": carrierRef})
}

func (c *carrierServer) validation(w http.ResponseWriter, r *http.Request) {
	if !c.record(w, "validation") {
		return
	}
	var body struct {
		Ref  string `json:"ref"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	if body.Ref != carrierRef || body.Code != carrierCode {
		http.Error(w, `{"error":"invalid code"}`, http.StatusBadRequest)
		return
	}
	writeCarrierJSON(w, map[string]string{"signature": carrierSignature})
}

func (c *carrierServer) graphql(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	switch {
	case strings.Contains(body.Query, "viewer"):
		if !c.record(w, "cookie") {
			return
		}
		if r.Header.Get("Cookie") == "" {
			writeCarrierJSON(w, map[string]any{"errors": []map[string]string{{"message": "unauthenticated"}}})
			return
		}
		writeCarrierJSON(w, map[string]any{"data": map[string]any{"viewer": map[string]any{"member": map[string]string{"id": "m-1"}}}})
		return
	}

	// Every other operation needs both the bearer token and the MFA signature.
	if !c.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	switch {
	case strings.Contains(body.Query, "getMemberProfileAndSim"):
		if !c.record(w, "member") {
			return
		}
		writeCarrierJSON(w, map[string]any{"data": map[string]any{
			"memberProfile": map[string]string{"id": "m-1", "memberName": "Ada"},
			"sim":           map[string]string{"phoneNumber": "07700900000", "status": "ACTIVE"},
		}})
	case strings.Contains(body.Query, "reserveESim"):
		if !c.record(w, "reserve") {
			return
		}
		writeCarrierJSON(w, map[string]any{"data": map[string]any{
			"reserveESim": map[string]any{
				"id":     "res-1",
				"status": "RESERVED",
				"esim":   map[string]string{"ssn": carrierSSN, "activationCode": carrierActivation},
			},
		}})
	case strings.Contains(body.Query, "SwapSim"):
		if !c.record(w, "swap") {
			return
		}
		if body.Variables["activationCode"] != carrierActivation {
			writeCarrierJSON(w, map[string]any{"errors": []map[string]string{{"message": "unknown activation code"}}})
			return
		}
		writeCarrierJSON(w, map[string]any{"data": map[string]any{
			"swapSim": map[string]any{
				"old": map[string]string{"ssn": "8944000000000000000"},
				"new": map[string]string{"ssn": carrierSSN},
			},
		}})
	case strings.Contains(body.Query, "eSimDownloadToken"):
		if !c.record(w, "download") {
			return
		}
		writeCarrierJSON(w, map[string]any{"data": map[string]any{
			"eSimDownloadToken": map[string]string{
				"id":         "dl-1",
				"host":       "smdp.example",
				"matchingId": "MATCH-1",
				"lpaString":  carrierLPA,
			},
		}})
	default:
		http.Error(w, `{"error":"unknown operation"}`, http.StatusBadRequest)
	}
}

func (c *carrierServer) authorized(r *http.Request) bool {
	return hasBearer(r) && r.Header.Get("X-MFA-Signature") == carrierSignature
}

func hasBearer(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token != ""
}

func writeCarrierJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// integrationConfig points every carrier endpoint at c. The service
// window is disabled so results do not depend on wall-clock time.
func integrationConfig(c *carrierServer) esimflow.Config {
	cfg := esimflow.DefaultConfig()
	cfg.Handle.SigningKey = "integration-signing-key-0123456789"
	cfg.OAuth.ClientSecret = carrierClientSecret
	cfg.Window.Enabled = false
	cfg.Upstream.TokenURL = c.URL + "/oauth/token"
	cfg.Upstream.GraphQLURL = c.URL + "/graphql"
	cfg.Upstream.MFAChallengeURL = c.URL + "/mfa/challenge"
	cfg.Upstream.MFAValidationURL = c.URL + "/mfa/validation"
	return cfg
}

// stack is an engine on a real carrier transport served over HTTP.
type stack struct {
	engine  *esimflow.Engine
	carrier *carrierServer
	api     *httptest.Server
}

func newStack(t *testing.T, rdb redis.UniversalClient, mutate func(*esimflow.Config)) *stack {
	t.Helper()

	carrier := newCarrierServer(t)
	cfg := integrationConfig(carrier)
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := esimflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithHTTPClient(carrier.Client()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	api := httptest.NewServer(httpapi.NewServer(engine, nil))
	t.Cleanup(api.Close)

	return &stack{engine: engine, carrier: carrier, api: api}
}

// call issues a JSON request against the API server and decodes the
// JSON response body into a generic map.
func (s *stack) call(t *testing.T, method, path, handle string, body any) (int, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(method, s.api.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if handle != "" {
		req.Header.Set("X-Session-Handle", handle)
	}

	resp, err := s.api.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func (s *stack) newSession(t *testing.T) string {
	t.Helper()
	status, body := s.call(t, http.MethodPost, "/api/session", "", nil)
	if status != http.StatusCreated {
		t.Fatalf("create session: status %d body %v", status, body)
	}
	handle, _ := body["handle"].(string)
	if handle == "" {
		t.Fatalf("create session returned no handle: %v", body)
	}
	return handle
}

func sessionField(t *testing.T, body map[string]any, field string) any {
	t.Helper()
	sess, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("response has no session: %v", body)
	}
	return sess[field]
}
