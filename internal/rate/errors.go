package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when the window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any counter backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidWindow rejects non-positive limits and windows.
	ErrInvalidWindow = errors.New("invalid rate window")
)
