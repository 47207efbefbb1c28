package auth

import "context"

// Identity is the authenticated caller of an operator endpoint.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller set by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" || id.Role == "" {
		return Identity{}, false
	}
	return id, true
}

// Role is a shorthand for rbac checks; empty when unauthenticated.
func Role(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.Role
}
