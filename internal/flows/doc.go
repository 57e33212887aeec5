// Package flows contains pure-function orchestrators for the login, MFA
// and provisioning operations of the Engine.
//
// Each flow function (RunStartLogin, RunCompleteLogin, RunSendChallenge,
// RunVerifyCode, RunProvision, etc.) accepts a typed dependency struct and
// returns results without side-effects beyond those dependencies. Remote
// failures come back as *upstream.Error values wrapping the host sentinel
// supplied in the Errors set.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the upstream client, transient
// stores, rate limiter, audit and metrics. They do NOT read or write
// sessions; the Engine applies flow results to the session and persists
// them.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import esimflow (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
package flows
