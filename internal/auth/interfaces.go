package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/database/models"
)

// Authenticator defines the interface for local account operations.
type Authenticator interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResponse, error)
	Login(ctx context.Context, input LoginInput) (*AuthResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenService defines the interface for local JWT operations.
type TokenService interface {
	GenerateToken(user *models.User) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// IdentityResolver maps a bearer credential to a local user.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*models.User, error)
}

// Compile-time interface satisfaction checks
var (
	_ Authenticator    = (*Service)(nil)
	_ TokenService     = (*JWTService)(nil)
	_ IdentityResolver = (*Resolver)(nil)
	_ Verifier         = (*JWTService)(nil)
	_ Verifier         = (*HTTPVerifier)(nil)
	_ Verifier         = (*OIDCVerifier)(nil)
)
