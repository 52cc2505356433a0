// Package middleware adapts goGuard.Engine to net/http.
//
// # Handlers
//
//   - [Identity] attaches the caller's IP, user agent and device to the
//     request context.
//   - [RateLimit] applies a named policy to a subject derived by a [KeyFunc].
//   - [Idempotency] captures and replays responses of mutating requests.
//   - [Guard] authenticates bearer access tokens.
//   - [RequireAdminToken] protects operator endpoints.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Counting,
// locking, token verification and event recording all happen in the
// Engine.
//
// # What this package must NOT do
//
//   - Talk to Redis or the relational store directly.
//   - Put internal error detail in a response body.
package middleware
