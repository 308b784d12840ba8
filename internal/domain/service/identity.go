package service

import (
	"context"

	"mlass/internal/domain/models"
)

// IdentityVerifier maps presented credentials to a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, creds models.Credentials) (models.Identity, error)
}
