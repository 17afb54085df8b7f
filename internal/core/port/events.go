package port

import (
	"context"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// EventPublisher emits auth domain events.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishUserStatusChanged(ctx context.Context, event domain.UserStatusChangedEvent) error
	PublishUserRoleChanged(ctx context.Context, event domain.UserRoleChangedEvent) error
	PublishTokensRevoked(ctx context.Context, event domain.TokensRevokedEvent) error
	PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error
}
