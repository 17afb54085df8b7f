package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	TopicUserRegistered       = "user.registered"
	TopicUserStatusChanged    = "user.status.changed"
	TopicUserRoleChanged      = "user.role.changed"
	TopicTokensRevoked        = "token.revoked"
	TopicRefreshReuseDetected = "token.reuse_detected"
)

// EventPublisher writes auth events to Kafka, keyed by user id so a user's events stay ordered.
type EventPublisher struct {
	producer *Producer
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, at time.Time, payload any) error {
	if at.IsZero() {
		at = time.Now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
		metadata["span_id"] = sc.SpanID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: at.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	return p.publish(ctx, event.EventID, TopicUserRegistered, event.UserID, event.RegisteredAt, userRegisteredPayload(event))
}

func (p *EventPublisher) PublishUserStatusChanged(ctx context.Context, event domain.UserStatusChangedEvent) error {
	return p.publish(ctx, event.EventID, TopicUserStatusChanged, event.UserID, event.ChangedAt, statusChangedPayload(event))
}

func (p *EventPublisher) PublishUserRoleChanged(ctx context.Context, event domain.UserRoleChangedEvent) error {
	return p.publish(ctx, event.EventID, TopicUserRoleChanged, event.UserID, event.ChangedAt, roleChangedPayload(event))
}

func (p *EventPublisher) PublishTokensRevoked(ctx context.Context, event domain.TokensRevokedEvent) error {
	return p.publish(ctx, event.EventID, TopicTokensRevoked, event.UserID, event.RevokedAt, tokensRevokedPayload(event))
}

func (p *EventPublisher) PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error {
	return p.publish(ctx, event.EventID, TopicRefreshReuseDetected, event.UserID, event.DetectedAt, reuseDetectedPayload(event))
}

type userRegistered struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
}

func userRegisteredPayload(e domain.UserRegisteredEvent) userRegistered {
	return userRegistered{
		UserID:       e.UserID,
		Email:        e.Email,
		Role:         string(e.Role),
		Status:       string(e.Status),
		RegisteredAt: e.RegisteredAt.UTC(),
	}
}

type statusChanged struct {
	UserID         string    `json:"user_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	ChangedBy      string    `json:"changed_by"`
	ChangedAt      time.Time `json:"changed_at"`
	TokensRevoked  int       `json:"tokens_revoked"`
}

func statusChangedPayload(e domain.UserStatusChangedEvent) statusChanged {
	return statusChanged{
		UserID:         e.UserID,
		PreviousStatus: string(e.PreviousStatus),
		Status:         string(e.Status),
		ChangedBy:      e.ChangedBy,
		ChangedAt:      e.ChangedAt.UTC(),
		TokensRevoked:  e.TokensRevoked,
	}
}

type roleChanged struct {
	UserID       string    `json:"user_id"`
	PreviousRole string    `json:"previous_role"`
	Role         string    `json:"role"`
	ChangedBy    string    `json:"changed_by"`
	ChangedAt    time.Time `json:"changed_at"`
}

func roleChangedPayload(e domain.UserRoleChangedEvent) roleChanged {
	return roleChanged{
		UserID:       e.UserID,
		PreviousRole: string(e.PreviousRole),
		Role:         string(e.Role),
		ChangedBy:    e.ChangedBy,
		ChangedAt:    e.ChangedAt.UTC(),
	}
}

type tokensRevoked struct {
	UserID    string    `json:"user_id"`
	FamilyID  string    `json:"family_id,omitempty"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
	RevokedAt time.Time `json:"revoked_at"`
}

func tokensRevokedPayload(e domain.TokensRevokedEvent) tokensRevoked {
	return tokensRevoked{
		UserID:    e.UserID,
		FamilyID:  e.FamilyID,
		Reason:    e.Reason,
		Count:     e.Count,
		RevokedAt: e.RevokedAt.UTC(),
	}
}

type reuseDetected struct {
	UserID     string    `json:"user_id"`
	FamilyID   string    `json:"family_id"`
	TokenID    string    `json:"token_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

func reuseDetectedPayload(e domain.RefreshReuseDetectedEvent) reuseDetected {
	return reuseDetected{
		UserID:     e.UserID,
		FamilyID:   e.FamilyID,
		TokenID:    e.TokenID,
		DeviceID:   e.DeviceID,
		DetectedAt: e.DetectedAt.UTC(),
	}
}

var _ port.EventPublisher = (*EventPublisher)(nil)
