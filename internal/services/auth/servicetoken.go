package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenProvider verifies HS256 tokens minted for machine callers and
// deployments without a hosted identity provider. The role travels in the
// token claims.
type ServiceTokenProvider struct {
	secret []byte
}

func NewServiceTokenProvider(secret string) *ServiceTokenProvider {
	return &ServiceTokenProvider{secret: []byte(secret)}
}

func (p *ServiceTokenProvider) ValidateToken(_ context.Context, token string) (*Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	identity := &Identity{}
	if sub, ok := claims["sub"].(string); ok {
		identity.UserID = sub
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	return identity, nil
}
