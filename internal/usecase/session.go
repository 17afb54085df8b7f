package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const (
	loginMethodOTP = "otp"
	loginMethodPIN = "pin"
)

// FlowStep tells the client which step comes next and carries the bearer
// token binding that step to the current one.
type FlowStep struct {
	State     domain.FlowState
	Token     string
	ExpiresAt time.Time
	// Code is only populated in development mode.
	Code string
}

// LoginResult is returned once a login flow has produced a session.
type LoginResult struct {
	State domain.FlowState
	Pair  *domain.TokenPair
	User  *domain.User
}

// SessionService drives the login, registration and PIN flows.
type SessionService struct {
	otpCfg    config.OTPSettings
	pinCfg    config.PINSettings
	users     port.UserRepository
	otp       *OTPService
	tokens    *TokenService
	flows     port.FlowTokenStore
	hasher    Hasher
	pinPolicy *security.PINPolicy
	events    port.EventPublisher
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(
	otpCfg config.OTPSettings,
	pinCfg config.PINSettings,
	users port.UserRepository,
	otp *OTPService,
	tokens *TokenService,
	flows port.FlowTokenStore,
	hasher Hasher,
	events port.EventPublisher,
	metrics Metrics,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if otpCfg.RegistrationTokenTTL <= 0 {
		otpCfg.RegistrationTokenTTL = 30 * time.Minute
	}
	if otpCfg.TTL <= 0 {
		otpCfg.TTL = 5 * time.Minute
	}
	if pinCfg.MaxAttempts <= 0 {
		pinCfg.MaxAttempts = 5
	}
	if pinCfg.LockDuration <= 0 {
		pinCfg.LockDuration = 15 * time.Minute
	}

	service := &SessionService{
		otpCfg:    otpCfg,
		pinCfg:    pinCfg,
		users:     users,
		otp:       otp,
		tokens:    tokens,
		flows:     flows,
		hasher:    hasher,
		pinPolicy: security.DefaultPINPolicy(),
		events:    events,
		metrics:   metricsOrNop(metrics),
		logger:    logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// StartLogin begins a login for email. Unknown addresses receive a decoy token
// that can never be verified. Users with a PIN are directed to PIN login unless
// forceOTP is set.
func (s *SessionService) StartLogin(ctx context.Context, email string, forceOTP bool) (*FlowStep, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Invalid("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			withRequest(ctx, s.logger).Info("login requested for unknown email", zap.String("email", logger.MaskEmail(email)))
			return s.decoyStep()
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	if user.HasPIN() && !forceOTP {
		return &FlowStep{State: domain.StateAwaitingPIN}, nil
	}

	issue, err := s.otp.RequestOTP(ctx, email, domain.PurposeLogin)
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

// decoyStep mirrors a real OTP step for addresses that have no account.
func (s *SessionService) decoyStep() (*FlowStep, error) {
	token, err := security.GenerateSecureToken(transactionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate transaction token: %w", err)
	}
	return &FlowStep{
		State:     domain.StateAwaitingOTP,
		Token:     token,
		ExpiresAt: s.now().Add(s.otpCfg.TTL),
	}, nil
}

// CompleteLoginOTP verifies a login code and opens a session. Users without a PIN
// get a session restricted to PIN setup.
func (s *SessionService) CompleteLoginOTP(ctx context.Context, transactionToken, code, deviceID string) (*LoginResult, error) {
	result, err := s.completeLoginOTP(ctx, transactionToken, code, deviceID)
	s.metrics.LoginCompleted(loginMethodOTP, resultLabel(err))
	return result, err
}

func (s *SessionService) completeLoginOTP(ctx context.Context, transactionToken, code, deviceID string) (*LoginResult, error) {
	verification, err := s.otp.VerifyOTP(ctx, transactionToken, code, domain.PurposeLogin)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, verification.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	return s.openSession(ctx, user, deviceID)
}

// LoginWithPIN authenticates with email and PIN. Repeated failures lock PIN
// login for the configured duration.
func (s *SessionService) LoginWithPIN(ctx context.Context, email, pin, deviceID string) (*LoginResult, error) {
	result, err := s.loginWithPIN(ctx, email, pin, deviceID)
	s.metrics.LoginCompleted(loginMethodPIN, resultLabel(err))
	return result, err
}

func (s *SessionService) loginWithPIN(ctx context.Context, email, pin, deviceID string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || pin == "" {
		return nil, domain.Invalid("email and pin are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.HasPIN() {
		return nil, domain.ErrUnauthorized
	}

	now := s.now()
	if user.PinLocked(now) {
		return nil, domain.ErrPinLocked
	}

	ok, err := s.hasher.Verify(pin, *user.PinHash)
	if err != nil {
		return nil, fmt.Errorf("verify pin: %w", err)
	}
	if !ok {
		return nil, s.recordPINFailure(ctx, user, now)
	}

	if user.PinFailedAttempts > 0 {
		if err := s.users.ResetPINFailures(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("reset pin failures: %w", err)
		}
	}
	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	return s.openSession(ctx, user, deviceID)
}

func (s *SessionService) recordPINFailure(ctx context.Context, user *domain.User, now time.Time) error {
	failure, err := s.users.RecordPINFailure(ctx, user.ID, s.pinCfg.MaxAttempts, now.Add(s.pinCfg.LockDuration))
	if err != nil {
		return fmt.Errorf("record pin failure: %w", err)
	}
	if failure.LockedUntil != nil && failure.LockedUntil.After(now) {
		s.metrics.PINLocked()
		withRequest(ctx, s.logger).Warn("pin login locked",
			zap.String("user_id", user.ID),
			zap.Time("locked_until", *failure.LockedUntil),
		)
		return domain.ErrPinLocked
	}
	return domain.ErrUnauthorized
}

func (s *SessionService) openSession(ctx context.Context, user *domain.User, deviceID string) (*LoginResult, error) {
	pinSetup := !user.HasPIN()
	pair, err := s.tokens.IssuePair(ctx, IssueRequest{
		UserID:   user.ID,
		Role:     user.Role,
		Status:   user.Status,
		DeviceID: deviceID,
		PinSetup: pinSetup,
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		withRequest(ctx, s.logger).Warn("record last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	state := domain.StateAuthenticated
	if pinSetup {
		state = domain.StateAwaitingPinSetup
	}
	return &LoginResult{State: state, Pair: pair, User: user}, nil
}

// Refresh rotates a refresh token.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return s.tokens.Rotate(ctx, refreshToken)
}

// Logout revokes the presented refresh token. Unknown, empty or already
// revoked tokens are not an error; only store failures are returned.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	err := s.tokens.RevokeByToken(ctx, refreshToken, domain.RevokeReasonLogout)
	if errors.Is(err, domain.ErrInvalidToken) {
		withRequest(ctx, s.logger).Debug("logout with unknown refresh token")
		return nil
	}
	return err
}

// LogoutAll revokes every refresh token of the caller.
func (s *SessionService) LogoutAll(ctx context.Context, identity domain.Identity) (int, error) {
	return s.tokens.RevokeAll(ctx, identity.UserID, domain.RevokeReasonLogoutAll)
}
