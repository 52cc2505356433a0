// Package jwt issues and verifies short-lived access tokens using configured
// signing keys (HS256 or Ed25519) with strict validation semantics suitable
// for the request hot path. Every token carries a random jti; revocation is
// handled outside this package by issued-at comparison.
package jwt
