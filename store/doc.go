// Package store defines the relational records goGuard persists and the
// interfaces its engines depend on.
//
// # Records
//
//   - [OTPChallenge] — one row per phone/purpose/channel, reset in place on
//     resend.
//   - [RefreshToken] — an immutable value; transitions ([RefreshToken.MarkRotated],
//     [RefreshToken.Revoke]) return a new value with the version advanced.
//   - [SecurityEvent] — append-only log entry; resolution is the only change.
//
// # Implementations
//
//   - store/postgres — pgx connection pool with embedded goose migrations.
//   - store/memory — mutex-guarded maps for tests and local development.
//
// Both implementations enforce the same conditional updates: a rotation or
// revocation is applied only while the stored version equals the caller's
// snapshot, and a verification only while the challenge is still active.
package store
