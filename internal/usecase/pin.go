package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

// PINState describes whether PIN login is available for an address.
type PINState struct {
	HasPIN      bool
	Locked      bool
	LockedUntil *time.Time
}

// SetPIN sets or replaces the caller's PIN. Every existing session is revoked
// and a fresh, unrestricted pair is returned.
func (s *SessionService) SetPIN(ctx context.Context, identity domain.Identity, pin, confirm string) (*LoginResult, error) {
	if err := s.validatePIN(pin, confirm); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	if err := s.storePIN(ctx, user, pin); err != nil {
		return nil, err
	}
	return s.openSession(ctx, user, identity.DeviceID)
}

// RequestPINReset mails a reset code. Unknown addresses receive a decoy token.
func (s *SessionService) RequestPINReset(ctx context.Context, email string) (*FlowStep, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Invalid("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.decoyStep()
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	issue, err := s.otp.RequestOTP(ctx, email, domain.PurposePasswordReset)
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

// ResetPIN verifies a reset code and replaces the PIN. It also lifts any lock
// and revokes every session.
func (s *SessionService) ResetPIN(ctx context.Context, transactionToken, code, pin, confirm string) error {
	if err := s.validatePIN(pin, confirm); err != nil {
		return err
	}

	verification, err := s.otp.VerifyOTP(ctx, transactionToken, code, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, verification.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return fmt.Errorf("load user: %w", err)
	}
	return s.storePIN(ctx, user, pin)
}

// PINStatus reports PIN availability for an address. Unknown addresses look
// like accounts without a PIN.
func (s *SessionService) PINStatus(ctx context.Context, email string) (*PINState, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Invalid("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &PINState{}, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	state := &PINState{HasPIN: user.HasPIN()}
	if user.PinLocked(s.now()) {
		state.Locked = true
		state.LockedUntil = user.PinLockedUntil
	}
	return state, nil
}

func (s *SessionService) validatePIN(pin, confirm string) error {
	if pin != confirm {
		return domain.Invalid("pin confirmation does not match")
	}
	if err := s.pinPolicy.Validate(pin); err != nil {
		var violation *security.PINViolation
		if errors.As(err, &violation) {
			return domain.Invalid(violation.Message)
		}
		return domain.Invalid("pin does not satisfy policy")
	}
	return nil
}

func (s *SessionService) storePIN(ctx context.Context, user *domain.User, pin string) error {
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}

	now := s.now()
	if err := s.users.SetPIN(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("store pin: %w", err)
	}
	if _, err := s.tokens.RevokeAll(ctx, user.ID, domain.RevokeReasonPinChanged); err != nil {
		return err
	}

	user.PinHash = &hash
	user.PinChangedAt = &now
	user.PinFailedAttempts = 0
	user.PinLockedUntil = nil
	return nil
}
