package handlers

import (
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

const (
	transactionTokenHeader  = "X-Transaction-Token"
	registrationTokenHeader = "X-Registration-Token"
)

// EmailRequest starts a registration, a PIN reset or a PIN status lookup.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// LoginRequest starts a login. ForceOTP requests a code even when a PIN is set.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	ForceOTP bool   `json:"force_otp"`
}

// OTPRequest carries the code for the step bound by X-Transaction-Token.
type OTPRequest struct {
	OTP      string `json:"otp" validate:"max=64"`
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
}

// PINLoginRequest logs in with a PIN.
type PINLoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	PIN      string `json:"pin" validate:"required,numeric,max=12"`
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
}

// RefreshRequest carries a refresh token for rotation.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

// LogoutRequest optionally names the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=512"`
}

// ProfileRequest completes a registration.
type ProfileRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
}

// SetPINRequest sets or replaces the caller's PIN.
type SetPINRequest struct {
	PIN        string `json:"pin" validate:"required,max=12"`
	ConfirmPIN string `json:"confirm_pin" validate:"required,max=12"`
}

// ResetPINRequest sets a new PIN after proving control of the email.
type ResetPINRequest struct {
	OTP        string `json:"otp" validate:"max=64"`
	PIN        string `json:"pin" validate:"required,max=12"`
	ConfirmPIN string `json:"confirm_pin" validate:"required,max=12"`
}

// StatusChangeRequest is the body of PATCH /admin/users/:id/status.
type StatusChangeRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active rejected inactive"`
}

// RoleChangeRequest is the body of PATCH /admin/users/:id/role.
type RoleChangeRequest struct {
	Role string `json:"role" validate:"required,oneof=admin manager user"`
}

// FlowStepResponse tells the client which step comes next.
type FlowStepResponse struct {
	State             domain.FlowState `json:"state"`
	TransactionToken  string           `json:"transaction_token,omitempty"`
	RegistrationToken string           `json:"registration_token,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	// OTP is only set in development mode.
	OTP string `json:"otp,omitempty"`
}

func transactionStep(step *usecase.FlowStep) FlowStepResponse {
	resp := FlowStepResponse{State: step.State, TransactionToken: step.Token, OTP: step.Code}
	if step.Token != "" {
		expires := step.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

func registrationStep(step *usecase.FlowStep) FlowStepResponse {
	expires := step.ExpiresAt
	return FlowStepResponse{State: step.State, RegistrationToken: step.Token, ExpiresAt: &expires}
}

// TokenPairResponse is the session credential.
type TokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokenPair(pair *domain.TokenPair, now time.Time) *TokenPairResponse {
	if pair == nil {
		return nil
	}
	expiresIn := int(pair.AccessExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        expiresIn,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	FirstName     string            `json:"first_name"`
	LastName      string            `json:"last_name"`
	Phone         *string           `json:"phone,omitempty"`
	Role          domain.Role       `json:"role"`
	Status        domain.UserStatus `json:"status"`
	HasPIN        bool              `json:"has_pin"`
	EmailVerified bool              `json:"email_verified"`
	LastLoginAt   *time.Time        `json:"last_login_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func userSummary(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Phone:         u.Phone,
		Role:          u.Role,
		Status:        u.Status,
		HasPIN:        u.HasPIN(),
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}

// LoginResponse is returned once a login produced a session.
type LoginResponse struct {
	State  domain.FlowState   `json:"state"`
	Tokens *TokenPairResponse `json:"tokens,omitempty"`
	User   *UserResponse      `json:"user,omitempty"`
}

// IdentityResponse describes the verified caller.
type IdentityResponse struct {
	UserID           string            `json:"user_id"`
	Role             domain.Role       `json:"role"`
	Status           domain.UserStatus `json:"status"`
	DeviceID         string            `json:"device_id,omitempty"`
	PinSetupRequired bool              `json:"pin_setup_required"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// SessionResponse is returned by the optional-auth session probe.
type SessionResponse struct {
	State         domain.FlowState  `json:"state"`
	Authenticated bool              `json:"authenticated"`
	Identity      *IdentityResponse `json:"identity,omitempty"`
}

// RegistrationResponse ends the registration flow.
type RegistrationResponse struct {
	State domain.FlowState `json:"state"`
	User  *UserResponse    `json:"user"`
}

// PINStatusResponse reports whether PIN login is available.
type PINStatusResponse struct {
	HasPIN      bool       `json:"has_pin"`
	Locked      bool       `json:"locked"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// RevokedResponse reports how many refresh tokens were revoked.
type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the outcome of every dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
