package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const transactionTokenBytes = 32

// OTPIssue is returned to the caller after a code was generated and queued for delivery.
type OTPIssue struct {
	TransactionToken string
	ExpiresAt        time.Time
	// Code is only populated in development mode.
	Code string
}

// Verification is the outcome of a successful code check.
type Verification struct {
	ChallengeID string
	Email       string
	Purpose     domain.OTPPurpose
}

// OTPService issues and verifies one-time codes bound to a transaction token.
type OTPService struct {
	cfg        config.OTPSettings
	challenges port.ChallengeRepository
	hasher     Hasher
	mailer     port.Mailer
	metrics    Metrics
	logger     *zap.Logger
	devMode    bool
	now        func() time.Time
}

// NewOTPService constructs an OTPService instance.
func NewOTPService(
	cfg config.OTPSettings,
	challenges port.ChallengeRepository,
	hasher Hasher,
	mailer port.Mailer,
	metrics Metrics,
	logger *zap.Logger,
	devMode bool,
) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	service := &OTPService{
		cfg:        cfg,
		challenges: challenges,
		hasher:     hasher,
		mailer:     mailer,
		metrics:    metricsOrNop(metrics),
		logger:     logger,
		devMode:    devMode,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *OTPService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RequestOTP creates a challenge for the email and purpose and mails the code.
// Any open challenge for the same pair is superseded. Requests arriving within
// the resend interval of the previous one are refused.
func (s *OTPService) RequestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) (*OTPIssue, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Invalid("email is required")
	}
	if !purpose.Valid() {
		return nil, domain.Invalid("unknown otp purpose")
	}

	now := s.now()

	if s.cfg.ResendInterval > 0 {
		latest, err := s.challenges.Latest(ctx, email, purpose)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load latest challenge: %w", err)
		case now.Sub(latest.IssuedAt) < s.cfg.ResendInterval:
			return nil, domain.ErrRateLimited
		}
	}

	code, err := security.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}
	txToken, err := security.GenerateSecureToken(transactionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate transaction token: %w", err)
	}

	challenge := domain.OTPChallenge{
		ID:                   uuid.NewString(),
		Email:                email,
		Purpose:              purpose,
		CodeHash:             codeHash,
		TransactionTokenHash: security.HashToken(txToken),
		AttemptsRemaining:    s.cfg.MaxAttempts,
		IssuedAt:             now,
		ExpiresAt:            now.Add(s.cfg.TTL),
	}

	if err := s.challenges.Issue(ctx, challenge); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// another request for the same email and purpose won the race
			return nil, domain.ErrRateLimited
		}
		return nil, fmt.Errorf("issue challenge: %w", err)
	}

	s.metrics.OTPIssued(string(purpose))
	s.deliver(ctx, email, purpose, code)

	issue := &OTPIssue{TransactionToken: txToken, ExpiresAt: challenge.ExpiresAt}
	if s.devMode {
		issue.Code = code
	}
	return issue, nil
}

// deliver hands the code to the mailer. Delivery is best effort.
func (s *OTPService) deliver(ctx context.Context, email string, purpose domain.OTPPurpose, code string) {
	if s.mailer == nil {
		return
	}
	data := map[string]string{
		"code":       code,
		"expires_in": strconv.Itoa(int(s.cfg.TTL.Minutes())),
	}
	if err := s.mailer.Send(ctx, email, domain.MailKindForPurpose(purpose), data); err != nil {
		withRequest(ctx, s.logger).Warn("otp delivery failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
	}
}

// VerifyOTP checks code against the challenge bound to transactionToken. Every
// call spends one attempt, malformed codes included. Exactly one concurrent
// caller can consume a challenge.
func (s *OTPService) VerifyOTP(ctx context.Context, transactionToken, code string, purpose domain.OTPPurpose) (*Verification, error) {
	verification, err := s.verify(ctx, transactionToken, code, purpose)
	s.metrics.OTPVerified(string(purpose), resultLabel(err))
	return verification, err
}

func (s *OTPService) verify(ctx context.Context, transactionToken, code string, purpose domain.OTPPurpose) (*Verification, error) {
	transactionToken = strings.TrimSpace(transactionToken)
	if transactionToken == "" {
		return nil, domain.ErrInvalidToken
	}

	challenge, err := s.challenges.GetByTransactionHash(ctx, security.HashToken(transactionToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if challenge.Purpose != purpose {
		return nil, domain.ErrInvalidToken
	}
	if err := s.checkUsable(challenge); err != nil {
		return nil, err
	}

	remaining, err := s.challenges.DecrementAttempts(ctx, challenge.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("decrement attempts: %w", err)
		}
		// closed or exhausted between the read and the update
		return nil, s.reclassify(ctx, challenge.ID, transactionToken)
	}

	if !s.codeMatches(code, challenge.CodeHash) {
		if remaining <= 0 {
			return nil, domain.ErrTooManyAttempts
		}
		return nil, domain.ErrInvalidOTP
	}

	if err := s.challenges.Consume(ctx, challenge.ID, s.now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	return &Verification{
		ChallengeID: challenge.ID,
		Email:       challenge.Email,
		Purpose:     challenge.Purpose,
	}, nil
}

func (s *OTPService) checkUsable(challenge *domain.OTPChallenge) error {
	switch {
	case !challenge.Open():
		return domain.ErrInvalidToken
	case challenge.Expired(s.now()):
		return domain.ErrOTPExpired
	case challenge.AttemptsRemaining <= 0:
		return domain.ErrTooManyAttempts
	}
	return nil
}

func (s *OTPService) reclassify(ctx context.Context, id, transactionToken string) error {
	challenge, err := s.challenges.GetByTransactionHash(ctx, security.HashToken(transactionToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return fmt.Errorf("reload challenge %s: %w", id, err)
	}
	if err := s.checkUsable(challenge); err != nil {
		return err
	}
	return domain.ErrTooManyAttempts
}

func (s *OTPService) codeMatches(code, encoded string) bool {
	code = strings.TrimSpace(code)
	if len(code) != s.cfg.CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	ok, err := s.hasher.Verify(code, encoded)
	if err != nil {
		s.logger.Warn("otp hash verification failed", zap.Error(err))
		return false
	}
	return ok
}

// PurgeExpired removes challenges that expired before the supplied moment.
func (s *OTPService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	purged, err := s.challenges.PurgeExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge expired challenges: %w", err)
	}
	return purged, nil
}
