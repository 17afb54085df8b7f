package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AccountService exposes the caller's profile and administrative account changes.
type AccountService struct {
	users  port.UserRepository
	tokens *TokenService
	events port.EventPublisher
	mailer port.Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewAccountService constructs an AccountService instance.
func NewAccountService(
	users port.UserRepository,
	tokens *TokenService,
	events port.EventPublisher,
	mailer port.Mailer,
	logger *zap.Logger,
) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &AccountService{
		users:  users,
		tokens: tokens,
		events: events,
		mailer: mailer,
		logger: logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AccountService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Me returns the account behind identity.
func (s *AccountService) Me(ctx context.Context, identity domain.Identity) (*domain.User, error) {
	return s.load(ctx, identity.UserID)
}

// ChangeStatus moves an account to status. Admins may change any account,
// managers only non-admin ones. Leaving the active state ends every session.
func (s *AccountService) ChangeStatus(ctx context.Context, actor domain.Identity, userID string, status domain.UserStatus) (*domain.User, error) {
	if !actor.HasRole(domain.RoleAdmin, domain.RoleManager) {
		return nil, domain.ErrInsufficientPermissions
	}
	if !status.Valid() {
		return nil, domain.Invalid("unknown status")
	}
	if actor.UserID == userID {
		return nil, domain.Invalid("cannot change your own status")
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == domain.RoleAdmin && actor.Role != domain.RoleAdmin {
		return nil, domain.ErrInsufficientPermissions
	}
	if user.Status == status {
		return user, nil
	}

	now := s.now()
	previous := user.Status
	if err := s.users.UpdateStatus(ctx, user.ID, status, actor.UserID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.tokens.InvalidateState(ctx, user.ID)

	revoked := 0
	if status != domain.UserStatusActive {
		if revoked, err = s.tokens.RevokeAll(ctx, user.ID, domain.RevokeReasonStatusChange); err != nil {
			return nil, err
		}
	}

	user.Status = status
	user.StatusChangedAt = &now
	user.StatusChangedBy = &actor.UserID
	user.UpdatedAt = now

	if s.events != nil {
		event := domain.UserStatusChangedEvent{
			EventID:        uuid.NewString(),
			UserID:         user.ID,
			PreviousStatus: previous,
			Status:         status,
			ChangedBy:      actor.UserID,
			ChangedAt:      now,
			TokensRevoked:  revoked,
		}
		if err := s.events.PublishUserStatusChanged(ctx, event); err != nil {
			withRequest(ctx, s.logger).Warn("publish status changed event failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.notifyStatus(ctx, user, previous)
	return user, nil
}

func (s *AccountService) notifyStatus(ctx context.Context, user *domain.User, previous domain.UserStatus) {
	if s.mailer == nil || previous != domain.UserStatusPending {
		return
	}

	var kind domain.MailKind
	switch user.Status {
	case domain.UserStatusActive:
		kind = domain.MailAccountApproved
	case domain.UserStatusRejected:
		kind = domain.MailAccountRejected
	default:
		return
	}

	if err := s.mailer.Send(ctx, user.Email, kind, map[string]string{"name": user.FullName()}); err != nil {
		withRequest(ctx, s.logger).Warn("account status mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// ChangeRole assigns role to an account. Only admins may do this. Existing
// sessions are revoked so the new role applies from the next login.
func (s *AccountService) ChangeRole(ctx context.Context, actor domain.Identity, userID string, role domain.Role) (*domain.User, error) {
	if !actor.HasRole(domain.RoleAdmin) {
		return nil, domain.ErrInsufficientPermissions
	}
	if !role.Valid() {
		return nil, domain.Invalid("unknown role")
	}
	if actor.UserID == userID {
		return nil, domain.Invalid("cannot change your own role")
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	now := s.now()
	previous := user.Role
	if err := s.users.UpdateRole(ctx, user.ID, role, actor.UserID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.tokens.InvalidateState(ctx, user.ID)

	if _, err := s.tokens.RevokeAll(ctx, user.ID, domain.RevokeReasonRoleChange); err != nil {
		return nil, err
	}

	user.Role = role
	user.RoleChangedAt = &now
	user.RoleChangedBy = &actor.UserID
	user.UpdatedAt = now

	if s.events != nil {
		event := domain.UserRoleChangedEvent{
			EventID:      uuid.NewString(),
			UserID:       user.ID,
			PreviousRole: previous,
			Role:         role,
			ChangedBy:    actor.UserID,
			ChangedAt:    now,
		}
		if err := s.events.PublishUserRoleChanged(ctx, event); err != nil {
			withRequest(ctx, s.logger).Warn("publish role changed event failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return user, nil
}

// ListPending returns accounts awaiting approval, newest first.
func (s *AccountService) ListPending(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	status := domain.UserStatusPending
	users, err := s.users.List(ctx, port.UserFilter{Status: &status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	return users, nil
}

func (s *AccountService) load(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
