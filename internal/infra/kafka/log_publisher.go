package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

// LogPublisher logs events instead of producing them. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) log(eventType, userID string, at time.Time, payload any) {
	p.logger.Info("event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

func (p *LogPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	payload := userRegisteredPayload(event)
	payload.Email = logger.MaskEmail(payload.Email)
	p.log(TopicUserRegistered, event.UserID, event.RegisteredAt, payload)
	return nil
}

func (p *LogPublisher) PublishUserStatusChanged(_ context.Context, event domain.UserStatusChangedEvent) error {
	p.log(TopicUserStatusChanged, event.UserID, event.ChangedAt, statusChangedPayload(event))
	return nil
}

func (p *LogPublisher) PublishUserRoleChanged(_ context.Context, event domain.UserRoleChangedEvent) error {
	p.log(TopicUserRoleChanged, event.UserID, event.ChangedAt, roleChangedPayload(event))
	return nil
}

func (p *LogPublisher) PublishTokensRevoked(_ context.Context, event domain.TokensRevokedEvent) error {
	p.log(TopicTokensRevoked, event.UserID, event.RevokedAt, tokensRevokedPayload(event))
	return nil
}

func (p *LogPublisher) PublishRefreshReuseDetected(_ context.Context, event domain.RefreshReuseDetectedEvent) error {
	p.logger.Warn("refresh token reuse detected",
		zap.String("user_id", event.UserID),
		zap.String("family_id", event.FamilyID),
		zap.String("token_id", event.TokenID),
	)
	return nil
}

var _ port.EventPublisher = (*LogPublisher)(nil)
