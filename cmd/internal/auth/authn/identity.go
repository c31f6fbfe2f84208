package authn

import (
	"context"

	"learnhub/cmd/internal/auth/session"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID        string
	Email         string
	Name          string
	Avatar        *string
	EmailVerified bool

	SessionID string
	Session   session.Session
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached by the middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
