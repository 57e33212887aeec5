// Package esimflow drives a carrier's eSIM provisioning workflow on behalf
// of clients: OAuth 2.0 PKCE or cookie login, a one-time-code MFA
// challenge, a member lookup, and the three-step reserve / swap /
// download-token saga that yields an LPA activation string.
//
// Each client owns a server-side session stored in Redis. The [Engine] is
// the only writer of session state; HTTP handlers and the CLI only call
// Engine methods and render the returned [SessionView].
//
// # Architecture boundaries
//
// esimflow is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (SessionView, Artifact, WindowStatus, MetricsSnapshot).
// Carrier transport, flow orchestration, session encoding, single-use
// challenge refs, rate limiting and audit dispatch live under internal/
// and are never exported.
//
// # Concurrency
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Mutating calls on one session are serialized by a
// Redis lock; a second concurrent call fails fast with
// [ErrOperationInFlight] instead of queueing.
//
// # Service window
//
// Login, challenge sends and provisioning are refused outside the
// carrier's operating hours (04:30 to 21:30 UK civil time) unless the
// session carries an explicit override. See [Engine.ServiceWindow] and
// [Engine.OverrideServiceWindow].
package esimflow
