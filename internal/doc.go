// Package internal contains helpers that are private to goGuard: secure random
// generation for OTP codes, refresh tokens and lock owners.
//
// # Sub-packages
//
//   - audit — async publication of security events (Dispatcher + Sink implementations)
//   - codehash — salted argon2id hashing for one-time codes
//   - flows — pure-function orchestrators for OTP and refresh-token operations
//   - httpapi — chi router and JSON handlers for the guardd service
//   - limiters — OTP send throttles built on internal/rate
//   - phone — phone number normalization (E.164)
//   - rate — Redis-backed fixed-window counter
//   - security — configuration posture report
//   - stores — Redis records for idempotency and access-token revocation
//   - sweeper — periodic retention cleanup
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGuard API.
//   - Be imported by any package outside the goGuard module.
package internal
