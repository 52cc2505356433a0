// Package goGuard is the request-safety and credential-lifecycle layer of a
// web backend: a distributed fixed-window rate limiter, an idempotency
// guard for mutating requests, phone OTP verification, refresh-token
// rotation with reuse detection and a security event recorder.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Engine], [Builder], [Config],
// the store contracts re-exported from package store, and value types such
// as [RateDecision] and [TokenPair]. Flow orchestration, Redis scripts,
// code hashing and event dispatch live under internal/.
//
// Redis holds everything that is counted or short-lived: rate counters,
// idempotency records and locks, access-token revocation marks. The
// relational store (store/postgres or store/memory) holds challenges,
// refresh tokens, users and security events.
//
// # Failure policy
//
// Rate limit policies choose between failing open and failing closed when
// Redis is unreachable. The idempotency guard, OTP throttles, token
// rotation and access-token revocation checks always fail closed.
// Recording a security event never changes the outcome of the operation
// that triggered it.
//
// # What this package must NOT do
//
//   - Log or persist plaintext OTP codes or refresh tokens. Only
//     [LogSender], a development sender, writes codes anywhere.
//   - Run cleanup on the request path. [Engine.Sweep] is driven by
//     internal/sweeper or the caller.
//   - Import any sub-package that re-imports goGuard (no import cycles).
package goGuard
