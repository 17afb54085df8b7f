package port

import (
	"context"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// RefreshTokenRepository persists hashed refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	// Revoke flips a single record from active to revoked. It fails with
	// repository.ErrConflict when the record was already revoked.
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
}
