package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const (
	refreshTokenBytes = 32
	tokenTypeBearer   = "Bearer"
)

// AccessTokenCodec signs and parses access tokens. security.JWTManager satisfies it.
type AccessTokenCodec interface {
	Sign(claims security.AccessClaims) (string, error)
	Parse(raw string) (*security.AccessClaims, error)
}

// IssueRequest describes the subject of a new token pair.
type IssueRequest struct {
	UserID   string
	Role     domain.Role
	Status   domain.UserStatus
	DeviceID string
	// PinSetup limits the access token to PIN setup and profile reads.
	PinSetup bool
}

// TokenService issues, verifies, rotates and revokes session credentials.
type TokenService struct {
	cfg     config.JWTSettings
	codec   AccessTokenCodec
	tokens  port.RefreshTokenRepository
	users   port.UserRepository
	cache   port.StatusCache
	events  port.EventPublisher
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(
	cfg config.JWTSettings,
	codec AccessTokenCodec,
	tokens port.RefreshTokenRepository,
	users port.UserRepository,
	cache port.StatusCache,
	events port.EventPublisher,
	metrics Metrics,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if cfg.StatusCacheTTL <= 0 || cfg.StatusCacheTTL > cfg.AccessTokenTTL {
		cfg.StatusCacheTTL = cfg.AccessTokenTTL
	}

	service := &TokenService{
		cfg:     cfg,
		codec:   codec,
		tokens:  tokens,
		users:   users,
		cache:   cache,
		events:  events,
		metrics: metricsOrNop(metrics),
		logger:  logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IssuePair starts a new refresh family for the subject.
func (s *TokenService) IssuePair(ctx context.Context, req IssueRequest) (*domain.TokenPair, error) {
	return s.issue(ctx, req, uuid.NewString(), nil)
}

func (s *TokenService) issue(ctx context.Context, req IssueRequest, familyID string, parentID *string) (*domain.TokenPair, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.Invalid("user id is required")
	}

	now := s.now()
	accessExpiry := now.Add(s.cfg.AccessTokenTTL)

	access, err := s.codec.Sign(security.AccessClaims{
		UserID:   req.UserID,
		Role:     string(req.Role),
		Status:   string(req.Status),
		DeviceID: req.DeviceID,
		FamilyID: familyID,
		PinSetup: req.PinSetup,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		TokenHash: security.HashToken(raw),
		FamilyID:  familyID,
		ParentID:  parentID,
		DeviceID:  req.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
		RefreshTokenID:   record.ID,
		FamilyID:         familyID,
		TokenType:        tokenTypeBearer,
	}, nil
}

// VerifyAccess validates an access token and checks that the account behind it
// still has the role and status the token was issued for.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (*domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrUnauthorized
	}

	claims, err := s.codec.Parse(raw)
	if err != nil {
		if errors.Is(err, security.ErrAccessTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}

	state, err := s.accountState(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckStatus(state.Status); err != nil {
		return nil, err
	}
	if string(state.Role) != claims.Role || string(state.Status) != claims.Status {
		return nil, domain.ErrInvalidToken
	}

	identity := &domain.Identity{
		UserID:           claims.UserID,
		Role:             domain.Role(claims.Role),
		Status:           domain.UserStatus(claims.Status),
		DeviceID:         claims.DeviceID,
		FamilyID:         claims.FamilyID,
		TokenID:          claims.ID,
		PinSetupRequired: claims.PinSetup,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// accountState reads role and status through the cache. A miss falls back to
// the user store and repopulates the cache.
func (s *TokenService) accountState(ctx context.Context, userID string) (*domain.AccountState, error) {
	if s.cache != nil {
		state, err := s.cache.Get(ctx, userID)
		switch {
		case err == nil:
			return state, nil
		case !errors.Is(err, repository.ErrNotFound):
			withRequest(ctx, s.logger).Warn("status cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	state := user.State()
	if s.cache != nil {
		if err := s.cache.Set(ctx, state, s.cfg.StatusCacheTTL); err != nil {
			withRequest(ctx, s.logger).Warn("status cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return &state, nil
}

// Rotate redeems a refresh token for a new pair in the same family. Presenting
// an already revoked token revokes the whole family.
func (s *TokenService) Rotate(ctx context.Context, raw string) (*domain.TokenPair, error) {
	pair, err := s.rotate(ctx, raw)
	s.metrics.RefreshRotated(resultLabel(err))
	return pair, err
}

func (s *TokenService) rotate(ctx context.Context, raw string) (*domain.TokenPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrInvalidToken
	}

	record, err := s.tokens.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now()
	if record.Revoked() {
		// Only a replayed rotation points at a stolen token. Tokens ended by
		// logout or an account change are refused quietly.
		return nil, s.handleReuse(ctx, record, now, record.RevokedFor(domain.RevokeReasonRotated))
	}
	if record.Expired(now) {
		return nil, domain.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := domain.CheckStatus(user.Status); err != nil {
		return nil, err
	}

	// The successor is stored before the parent is redeemed. A caller losing the
	// redeem race revokes it along with the rest of the family.
	parentID := record.ID
	pair, err := s.issue(ctx, IssueRequest{
		UserID:   user.ID,
		Role:     user.Role,
		Status:   user.Status,
		DeviceID: record.DeviceID,
		PinSetup: !user.HasPIN(),
	}, record.FamilyID, &parentID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Revoke(ctx, record.ID, domain.RevokeReasonRotated, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.handleReuse(ctx, record, now, true)
		}
		if revokeErr := s.tokens.Revoke(ctx, pair.RefreshTokenID, domain.RevokeReasonRotated, now); revokeErr != nil {
			withRequest(ctx, s.logger).Warn("discard successor token failed", zap.String("token_id", pair.RefreshTokenID), zap.Error(revokeErr))
		}
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	return pair, nil
}

func (s *TokenService) handleReuse(ctx context.Context, record *domain.RefreshToken, now time.Time, alert bool) error {
	count, err := s.tokens.RevokeFamily(ctx, record.FamilyID, domain.RevokeReasonReuse, now)
	if err != nil {
		return fmt.Errorf("revoke refresh family: %w", err)
	}

	if !alert {
		withRequest(ctx, s.logger).Debug("revoked refresh token presented",
			zap.String("user_id", record.UserID),
			zap.String("token_id", record.ID),
			zap.Int("revoked", count),
		)
		return domain.ErrInvalidToken
	}

	s.metrics.RefreshReuseDetected()
	withRequest(ctx, s.logger).Warn("refresh token reuse detected",
		zap.String("user_id", record.UserID),
		zap.String("family_id", record.FamilyID),
		zap.String("token_id", record.ID),
		zap.Int("revoked", count),
	)

	if s.events != nil {
		event := domain.RefreshReuseDetectedEvent{
			EventID:    uuid.NewString(),
			UserID:     record.UserID,
			FamilyID:   record.FamilyID,
			TokenID:    record.ID,
			DeviceID:   record.DeviceID,
			DetectedAt: now,
		}
		if err := s.events.PublishRefreshReuseDetected(ctx, event); err != nil {
			withRequest(ctx, s.logger).Warn("publish reuse event failed", zap.Error(err))
		}
	}
	return domain.ErrInvalidToken
}

// RevokeAll revokes every refresh token owned by the user and returns how many were active.
func (s *TokenService) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	now := s.now()
	count, err := s.tokens.RevokeAllForUser(ctx, userID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}

	if s.events != nil && count > 0 {
		event := domain.TokensRevokedEvent{
			EventID:   uuid.NewString(),
			UserID:    userID,
			Reason:    reason,
			Count:     count,
			RevokedAt: now,
		}
		if err := s.events.PublishTokensRevoked(ctx, event); err != nil {
			withRequest(ctx, s.logger).Warn("publish tokens revoked event failed", zap.Error(err))
		}
	}
	return count, nil
}

// Revoke revokes a single refresh token by id. Revoking an already revoked token is a no-op.
func (s *TokenService) Revoke(ctx context.Context, tokenID, reason string) error {
	err := s.tokens.Revoke(ctx, tokenID, reason, s.now())
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeByToken revokes the refresh token with the supplied raw value.
func (s *TokenService) RevokeByToken(ctx context.Context, raw, reason string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ErrInvalidToken
	}

	record, err := s.tokens.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	return s.Revoke(ctx, record.ID, reason)
}

// InvalidateState drops the cached account state so the next verification reads the store.
func (s *TokenService) InvalidateState(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		withRequest(ctx, s.logger).Warn("status cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
