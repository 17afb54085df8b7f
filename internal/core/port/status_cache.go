package port

import (
	"context"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// StatusCache is a short-lived view of account role and status used when
// verifying access tokens.
type StatusCache interface {
	Get(ctx context.Context, userID string) (*domain.AccountState, error)
	Set(ctx context.Context, state domain.AccountState, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}
