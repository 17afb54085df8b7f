package port

import (
	"context"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// UserFilter constrains list queries.
type UserFilter struct {
	Status *domain.UserStatus
	Role   *domain.Role
	Limit  int
	Offset int
}

// PinFailure is the counter state after a failed PIN attempt.
type PinFailure struct {
	Attempts    int
	LockedUntil *time.Time
}

// UserRepository persists user records. Email lookups are case-insensitive.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.UserStatus, changedBy string, at time.Time) error
	UpdateRole(ctx context.Context, id string, role domain.Role, changedBy string, at time.Time) error
	SetPIN(ctx context.Context, id, pinHash string, at time.Time) error
	RecordPINFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (PinFailure, error)
	ResetPINFailures(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
}
