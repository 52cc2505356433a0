package goGuard

import "context"

// Identity is the request-scoped caller context. UserID is empty for
// anonymous callers.
type Identity struct {
	UserID    string
	IP        string
	UserAgent string
	DeviceID  string
}

// Authenticated reports whether the identity carries a user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

type identityContextKey struct{}

// WithIdentity attaches id to ctx. The engine reads it to key rate limits,
// stamp issued tokens with device and IP and fill security events.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// WithUserID returns ctx with the identity's user replaced. Used after
// bearer authentication resolves the caller.
func WithUserID(ctx context.Context, userID string) context.Context {
	id, _ := IdentityFromContext(ctx)
	id.UserID = userID
	return WithIdentity(ctx, id)
}

func identityFromContext(ctx context.Context) Identity {
	id, _ := IdentityFromContext(ctx)
	return id
}
