package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const (
	registrationTokenBytes = 32
	maxNameLength          = 100
)

// StartRegistration sends a registration code to an address that has no account yet.
func (s *SessionService) StartRegistration(ctx context.Context, email string) (*FlowStep, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Invalid("email is required")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, domain.ErrEmailExists
	}

	issue, err := s.otp.RequestOTP(ctx, email, domain.PurposeRegister)
	if err != nil {
		return nil, err
	}
	return &FlowStep{
		State:     domain.StateAwaitingOTP,
		Token:     issue.TransactionToken,
		ExpiresAt: issue.ExpiresAt,
		Code:      issue.Code,
	}, nil
}

// VerifyRegistration checks the registration code and returns a registration
// token scoped to the verified email.
func (s *SessionService) VerifyRegistration(ctx context.Context, transactionToken, code string) (*FlowStep, error) {
	verification, err := s.otp.VerifyOTP(ctx, transactionToken, code, domain.PurposeRegister)
	if err != nil {
		return nil, err
	}

	raw, err := security.GenerateSecureToken(registrationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate registration token: %w", err)
	}

	now := s.now()
	token := domain.FlowToken{
		Kind:      domain.FlowTokenRegistration,
		Email:     verification.Email,
		Purpose:   domain.PurposeRegister,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.otpCfg.RegistrationTokenTTL),
	}
	if err := s.flows.Save(ctx, security.HashToken(raw), token, s.otpCfg.RegistrationTokenTTL); err != nil {
		return nil, fmt.Errorf("store registration token: %w", err)
	}

	return &FlowStep{
		State:     domain.StateAwaitingProfile,
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// CompleteRegistration creates a pending account for the email bound to the
// registration token. No session is issued; an administrator has to approve it.
func (s *SessionService) CompleteRegistration(ctx context.Context, registrationToken string, profile domain.Profile) (*domain.User, error) {
	profile, err := normalizeProfile(profile)
	if err != nil {
		return nil, err
	}

	registrationToken = strings.TrimSpace(registrationToken)
	if registrationToken == "" {
		return nil, domain.ErrInvalidToken
	}

	token, err := s.flows.Consume(ctx, security.HashToken(registrationToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("consume registration token: %w", err)
	}

	now := s.now()
	if token.Kind != domain.FlowTokenRegistration || token.Purpose != domain.PurposeRegister || !now.Before(token.ExpiresAt) {
		return nil, domain.ErrInvalidToken
	}

	user := domain.User{
		ID:            uuid.NewString(),
		Email:         token.Email,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		Role:          domain.RoleUser,
		Status:        domain.UserStatusPending,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if profile.Phone != "" {
		phone := profile.Phone
		user.Phone = &phone
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.events != nil {
		event := domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       user.ID,
			Email:        user.Email,
			Role:         user.Role,
			Status:       user.Status,
			RegisteredAt: now,
		}
		if err := s.events.PublishUserRegistered(ctx, event); err != nil {
			withRequest(ctx, s.logger).Warn("publish user registered event failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return &user, nil
}

func normalizeProfile(p domain.Profile) (domain.Profile, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)

	switch {
	case p.FirstName == "" || p.LastName == "":
		return p, domain.Invalid("first name and last name are required")
	case utf8.RuneCountInString(p.FirstName) > maxNameLength || utf8.RuneCountInString(p.LastName) > maxNameLength:
		return p, domain.Invalid("name is too long")
	}
	return p, nil
}
