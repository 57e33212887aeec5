// Package session provides Redis-backed persistence of workflow sessions
// and their compact binary encoding.
//
// # Binary encoding
//
// A session is stored under one key as a versioned blob: version byte,
// state byte, flag byte, then uint16 length-prefixed strings and two
// big-endian int64 timestamps. The session ID is the key suffix and is not
// part of the blob.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model, including the
// credential ordering rules enforced by [Session.Validate]. It does NOT
// call upstream services or decide workflow transitions; those belong to
// the Engine.
//
// # What this package must NOT do
//
//   - Import esimflow, jwt, or any internal package.
//   - Log credential fields.
package session
