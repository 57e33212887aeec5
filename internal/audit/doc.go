// Package audit implements async event dispatching for workflow
// transitions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logrus, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with id, timestamp, type, session, member, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that responsibility belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import esimflow or any sibling internal package.
//   - Carry credential values in events or metadata.
package audit
