// Package internal contains helper utilities that are private to esimflow,
// including session id and OAuth state generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - rate: Redis-backed MFA challenge throttling
//   - stores: login attempt, challenge ref and session lock stores
//   - upstream: carrier HTTP caller, header profiles and typed client
//   - window: UK service window evaluation
//
// # What this package must NOT do
//
//   - Export types that appear in the public esimflow API.
//   - Be imported by any package outside the esimflow module.
package internal
