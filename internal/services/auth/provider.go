package auth

import "context"

// Identity is the authenticated caller. Role is only set when the token
// itself carries one (service tokens); Clerk identities resolve their role
// through the account record.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Provider verifies a bearer token and returns the caller's identity.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}
