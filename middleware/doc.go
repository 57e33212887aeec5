// Package middleware holds the HTTP middleware shared by the esimflow
// HTTP surface.
//
// # Request plumbing
//
//   - [RequestID] assigns or propagates X-Request-ID and attaches it with
//     esimflow.WithRequestID.
//   - [ClientIP] attaches the caller address with esimflow.WithClientIP,
//     which the engine uses for challenge throttling and audit records.
//   - [AccessLog] writes one logrus entry per request.
//   - [Recover] turns a handler panic into a 500 JSON response.
//
// # Session guards
//
//   - [RequireSession] resolves the signed session handle from the session
//     cookie or the X-Session-Handle header. It does not touch Redis.
//   - [RequireLiveSession] additionally loads the session, rejecting
//     handles whose session expired or was logged out.
//
// Guards never make workflow decisions. Every state rule stays in the
// Engine.
package middleware
