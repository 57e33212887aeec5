// Package rate provides Redis-backed fixed-window counters that throttle
// MFA challenge sends.
//
// # Window semantics
//
// INCR + conditional EXPIRE on first hit. Key prefixes:
//   - efr:s:: challenge sends per session
//   - efr:i:: challenge sends per client IP
//
// # What this package must NOT do
//
//   - Decide which operations are throttled (the Engine does).
//   - Be imported outside the esimflow module.
package rate
