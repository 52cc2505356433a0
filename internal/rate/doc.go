// Package rate provides the Redis-backed fixed-window counter that every
// goGuard rate limit is built on.
//
// # Window semantics
//
// One Lua script performs INCR and, when the key is new or has lost its TTL,
// PEXPIRE. It returns the post-increment count and the remaining PTTL in the
// same round trip, so concurrent callers on the same key observe a strict
// sequence 1..N and exactly Limit of them are allowed.
//
// Keys are <prefix>:<policy>:<subject>. Counters are never deleted; they
// expire with their window.
//
// # What this package must NOT do
//
//   - Decide fail-open versus fail-closed (the Engine owns policy).
//   - Be imported outside the goGuard module.
package rate
