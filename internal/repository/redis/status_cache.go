package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const (
	defaultStatusPrefix = "account_state"

	fieldRole   = "role"
	fieldStatus = "status"
)

// StatusCacheRepository caches account role and status for access-token checks.
type StatusCacheRepository struct {
	client *red.Client
	prefix string
}

// NewStatusCacheRepository constructs a status cache with the provided key prefix.
func NewStatusCacheRepository(client *red.Client, keyPrefix string) *StatusCacheRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultStatusPrefix
	}
	return &StatusCacheRepository{client: client, prefix: prefix}
}

// Get returns the cached state or repository.ErrNotFound on a miss.
func (r *StatusCacheRepository) Get(ctx context.Context, userID string) (*domain.AccountState, error) {
	key := r.key(userID)
	if key == "" {
		return nil, errors.New("user id is required")
	}

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall account state: %w", err)
	}

	status := values[fieldStatus]
	if status == "" {
		return nil, repository.ErrNotFound
	}

	return &domain.AccountState{
		UserID: strings.TrimSpace(userID),
		Role:   domain.Role(values[fieldRole]),
		Status: domain.UserStatus(status),
	}, nil
}

// Set stores the state for ttl.
func (r *StatusCacheRepository) Set(ctx context.Context, state domain.AccountState, ttl time.Duration) error {
	key := r.key(state.UserID)
	switch {
	case key == "":
		return errors.New("user id is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldRole:   string(state.Role),
		fieldStatus: string(state.Status),
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store account state: %w", err)
	}
	return nil
}

// Invalidate drops the cached state so the next check reads the store.
func (r *StatusCacheRepository) Invalidate(ctx context.Context, userID string) error {
	key := r.key(userID)
	if key == "" {
		return errors.New("user id is required")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete account state: %w", err)
	}
	return nil
}

func (r *StatusCacheRepository) key(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

var _ port.StatusCache = (*StatusCacheRepository)(nil)
