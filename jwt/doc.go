// Package jwt issues and verifies session handles: short signed tokens
// that bind an HTTP client to the id of its provisioning session.
//
// Handles carry no carrier credentials. The session id is the registered
// subject claim; everything else lives server-side in the session store.
package jwt
