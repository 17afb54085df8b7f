package port

import (
	"context"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// FlowTokenStore keeps short-lived flow tokens keyed by their hash.
type FlowTokenStore interface {
	Save(ctx context.Context, tokenHash string, token domain.FlowToken, ttl time.Duration) error
	// Consume atomically reads and deletes the record so it is single use.
	Consume(ctx context.Context, tokenHash string) (*domain.FlowToken, error)
}
