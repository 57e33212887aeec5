// Package httpapi serves the esimflow Engine over HTTP.
//
// Two route groups are registered on a gorilla/mux router:
//
//   - /api/token-exchange, /api/verify-cookie, /api/mfa-challenge,
//     /api/mfa-verify, /api/member-info and /api/request-esim are the
//     stateless gateway operations. Callers carry their own credentials
//     in the Authorization and X-MFA-Signature headers.
//   - /api/session and /api/flow/* drive the server-side session of the
//     caller, named by a signed handle in the session cookie or the
//     X-Session-Handle header.
//
// Every failure is written as a JSON envelope {error, details, status,
// step, kind}. Handlers hold no workflow logic; they decode input, call
// one Engine method and render the result.
package httpapi
