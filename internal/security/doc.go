// Package security derives a configuration posture report: which limiter
// policies fail open, whether OTP throttles are armed, token lifetimes and
// the warnings an operator should see at startup.
//
// The root package exposes it as Engine.SecurityReport; cmd/guardd logs
// the warnings on boot.
package security
