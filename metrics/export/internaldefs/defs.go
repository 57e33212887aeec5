package internaldefs

import (
	"github.com/MrEthical07/esimflow"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   esimflow.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   esimflow.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: esimflow.MetricSessionCreated, Name: "esimflow_session_created_total", Help: "Sessions created."},
	{ID: esimflow.MetricLoginStarted, Name: "esimflow_login_started_total", Help: "Authorization URLs issued."},
	{ID: esimflow.MetricLoginSuccess, Name: "esimflow_login_success_total", Help: "Completed PKCE logins and token exchanges."},
	{ID: esimflow.MetricLoginFailure, Name: "esimflow_login_failure_total", Help: "Rejected callbacks and token exchanges."},
	{ID: esimflow.MetricStateMismatch, Name: "esimflow_login_state_mismatch_total", Help: "Callbacks rejected for a state mismatch."},
	{ID: esimflow.MetricCookieLoginSuccess, Name: "esimflow_cookie_login_success_total", Help: "Accepted session cookies."},
	{ID: esimflow.MetricCookieLoginFailure, Name: "esimflow_cookie_login_failure_total", Help: "Rejected session cookies."},
	{ID: esimflow.MetricMFAChallengeSent, Name: "esimflow_mfa_challenge_sent_total", Help: "MFA codes sent."},
	{ID: esimflow.MetricMFAChallengeFailure, Name: "esimflow_mfa_challenge_failure_total", Help: "Failed MFA code sends."},
	{ID: esimflow.MetricMFAVerifySuccess, Name: "esimflow_mfa_verify_success_total", Help: "Accepted MFA codes."},
	{ID: esimflow.MetricMFAVerifyFailure, Name: "esimflow_mfa_verify_failure_total", Help: "Rejected MFA codes."},
	{ID: esimflow.MetricMFAReplayRejected, Name: "esimflow_mfa_replay_rejected_total", Help: "Verifications refused for a spent challenge ref."},
	{ID: esimflow.MetricMemberLookupFailure, Name: "esimflow_member_lookup_failure_total", Help: "Failed member profile lookups."},
	{ID: esimflow.MetricProvisionStarted, Name: "esimflow_provision_started_total", Help: "Provisioning runs started."},
	{ID: esimflow.MetricProvisionSuccess, Name: "esimflow_provision_success_total", Help: "Provisioning runs that produced an LPA string."},
	{ID: esimflow.MetricProvisionFailure, Name: "esimflow_provision_failure_total", Help: "Provisioning runs aborted at a step."},
	{ID: esimflow.MetricWindowBlocked, Name: "esimflow_window_blocked_total", Help: "Operations refused outside the service window."},
	{ID: esimflow.MetricWindowOverride, Name: "esimflow_window_override_total", Help: "Service window overrides confirmed."},
	{ID: esimflow.MetricInFlightRejected, Name: "esimflow_in_flight_rejected_total", Help: "Calls refused while another call held the session."},
	{ID: esimflow.MetricRateLimitHit, Name: "esimflow_rate_limit_hit_total", Help: "MFA sends refused by the rate limiter."},
	{ID: esimflow.MetricLogout, Name: "esimflow_logout_total", Help: "Sessions logged out."},
}

var HistogramDefs = []HistogramDef{
	{ID: esimflow.MetricUpstreamLatency, Name: "esimflow_upstream_latency_seconds", Help: "Latency of carrier calls."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's eight
// latency buckets. The last bucket is unbounded.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names each bucket, including +Inf, for exporters
// that cannot carry a label.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-slot array; missing
// buckets are zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
