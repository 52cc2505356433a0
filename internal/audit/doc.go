// Package audit delivers recorded security events to external consumers.
//
// # Components
//
//   - [Publisher] — interface for event consumers (Redis stream, channel, JSON writer, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics
//     and bounded retry per event.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events
// are recorded or how severe they are; the recorder in goGuard does that and
// persists each event before handing it here. Delivery is at-least-once: a
// publisher may see the same event twice after a timeout.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goGuard or any sibling internal package.
package audit
