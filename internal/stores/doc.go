// Package stores provides Redis-backed, short-lived records that guard the
// login and MFA workflow: PKCE login attempts, single-use MFA challenge
// references, and per-session in-flight locks.
//
// # Design
//
// Each store owns one key prefix and sets a TTL on every write. Records
// that must be used at most once (login attempts, challenge refs) are read
// and removed in a single GETDEL. Locks are SET NX PX with a random owner
// token and are released through a compare-and-delete script.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate PKCE material, call upstream services, or
// decide workflow transitions; those belong to internal/flows and the
// Engine.
//
// # What this package must NOT do
//
//   - Import esimflow or any sibling internal package.
//   - Store raw challenge refs in key names.
package stores
