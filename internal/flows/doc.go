// Package flows contains pure-function orchestrators for the OTP and token
// rotation operations of the Engine.
//
// Each flow function (RunSendOTP, RunVerifyOTP, RunRotate, etc.) accepts a
// typed dependency struct and returns a result carrying a failure kind. The
// Engine maps kinds to public errors, security events and metrics.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the relational stores, code hasher,
// rate limiter and JWT manager. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goGuard (to avoid import cycles).
//   - Record security events or log. Classification belongs to the caller.
package flows
