// Package stores provides short-lived Redis records used on the request
// path: idempotency response records with their execution locks, and the
// per-user access-token revocation marks.
//
// # Design
//
// Records are written with SET NX so the first writer wins. Locks carry a
// random owner token and are released by a compare-and-delete script, so a
// slow holder whose lock already expired cannot release a successor's lock.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for Redis records.
// It does NOT decide conflicts, fingerprint requests or shape HTTP
// responses; those belong to the Engine and the middleware.
//
// # What this package must NOT do
//
//   - Import goGuard or any sibling internal package.
//   - Log or expose response bodies or tokens.
package stores
