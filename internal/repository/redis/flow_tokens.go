package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const defaultFlowTokenPrefix = "flow"

type flowTokenRecord struct {
	Kind      string `json:"kind"`
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// FlowTokenRepository keeps registration tokens in Redis under their hash.
type FlowTokenRepository struct {
	client *red.Client
	prefix string
}

// NewFlowTokenRepository constructs a flow token store with the provided key prefix.
func NewFlowTokenRepository(client *red.Client, keyPrefix string) *FlowTokenRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultFlowTokenPrefix
	}
	return &FlowTokenRepository{client: client, prefix: prefix}
}

// Save stores the token record with the supplied TTL.
func (r *FlowTokenRepository) Save(ctx context.Context, tokenHash string, token domain.FlowToken, ttl time.Duration) error {
	key := r.key(tokenHash)
	switch {
	case key == "":
		return errors.New("token hash is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(flowTokenRecord{
		Kind:      string(token.Kind),
		Email:     token.Email,
		Purpose:   string(token.Purpose),
		IssuedAt:  token.IssuedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal flow token: %w", err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set flow token: %w", err)
	}
	return nil
}

// Consume reads and deletes the record in one GETDEL so a token redeems once.
func (r *FlowTokenRepository) Consume(ctx context.Context, tokenHash string) (*domain.FlowToken, error) {
	key := r.key(tokenHash)
	if key == "" {
		return nil, repository.ErrNotFound
	}

	raw, err := r.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis getdel flow token: %w", err)
	}

	var record flowTokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal flow token: %w", err)
	}

	return &domain.FlowToken{
		Kind:      domain.FlowTokenKind(record.Kind),
		Email:     record.Email,
		Purpose:   domain.OTPPurpose(record.Purpose),
		IssuedAt:  time.Unix(record.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(record.ExpiresAt, 0).UTC(),
	}, nil
}

func (r *FlowTokenRepository) key(tokenHash string) string {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, tokenHash)
}

var _ port.FlowTokenStore = (*FlowTokenRepository)(nil)
