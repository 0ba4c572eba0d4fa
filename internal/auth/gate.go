// Package auth authenticates users and answers the two questions every
// protected operation asks: is there a caller, and do they own the record.
package auth

import (
	"context"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// Identity is the caller attached to a request. The zero value is anonymous.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Authenticated reports whether the identity belongs to a logged-in user.
func (i Identity) Authenticated() bool { return i.UserID > 0 }

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored in ctx, or the anonymous identity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// RequireAuthenticated returns the caller or ErrUnauthenticated.
func RequireAuthenticated(ctx context.Context) (Identity, error) {
	id := IdentityFrom(ctx)
	if !id.Authenticated() {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// RequireOwnership fails with ErrForbidden unless callerID owns the record.
func RequireOwnership(ownerID, callerID int64) error {
	if callerID <= 0 || ownerID != callerID {
		return ErrForbidden
	}
	return nil
}
