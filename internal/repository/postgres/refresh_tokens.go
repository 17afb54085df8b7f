package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const refreshTokensTable = "auth.refresh_tokens"

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"family_id",
	"parent_id",
	"device_id",
	"created_at",
	"expires_at",
	"revoked_at",
	"revoke_reason",
}

// RefreshTokenRepository implements port.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a refresh token repository.
func NewRefreshTokenRepository(exec pgExecutor) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create inserts a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert(refreshTokensTable).
		Columns(
			"id",
			"user_id",
			"token_hash",
			"family_id",
			"parent_id",
			"device_id",
			"created_at",
			"expires_at",
		).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.FamilyID,
			token.ParentID,
			token.DeviceID,
			token.CreatedAt,
			token.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a refresh token by the hash of its raw value.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"token_hash": hash})
}

// GetByID retrieves a refresh token by identifier.
func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// Revoke flips one record to revoked, guarded on it still being active.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"id": id, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// RevokeFamily revokes every active token descended from the same login.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, "revoke refresh token family", squirrel.Eq{"family_id": familyID, "revoked_at": nil}, reason, at)
}

// RevokeAllForUser revokes every active token owned by the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	return r.revokeWhere(ctx, "revoke user refresh tokens", squirrel.Eq{"user_id": userID, "revoked_at": nil}, reason, at)
}

func (r *RefreshTokenRepository) revokeWhere(ctx context.Context, op string, where squirrel.Eq, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s sql: %w", op, err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *RefreshTokenRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From(refreshTokensTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var token domain.RefreshToken
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.FamilyID,
		&token.ParentID,
		&token.DeviceID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.RevokeReason,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &token, nil
}

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
