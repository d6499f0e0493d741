package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Role constants checked by the booking and admin routes.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the customer or staff member behind a verified Firebase ID token.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	token *firebaseauth.Token
}

// Token returns the decoded ID token, or nil for identities built in tests.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole matches role case-insensitively against the identity's roles.
func (i *Identity) HasRole(role string) bool {
	return i.HasAnyRole(role)
}

// HasAnyRole reports whether at least one of roles is held.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, want := range roles {
		if want = normaliseRole(want); want == "" {
			continue
		}
		for _, held := range i.Roles {
			if normaliseRole(held) == want {
				return true
			}
		}
	}
	return false
}

// IsStaff reports whether the identity may operate the back office.
func (i *Identity) IsStaff() bool {
	return i.HasAnyRole(RoleStaff, RoleAdmin)
}

// Owns reports whether ownerID names this identity.
func (i *Identity) Owns(ownerID string) bool {
	owner := strings.TrimSpace(ownerID)
	return i != nil && owner != "" && i.UID == owner
}

type identityKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

// UserID returns the authenticated uid, or "" for anonymous visitors.
func UserID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity.UID
	}
	return ""
}
