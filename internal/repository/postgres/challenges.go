package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const challengesTable = "auth.otp_challenges"

var challengeColumns = []string{
	"id",
	"email",
	"purpose",
	"code_hash",
	"transaction_token_hash",
	"attempts_remaining",
	"issued_at",
	"expires_at",
	"consumed_at",
	"superseded_at",
}

// openChallenge matches rows that can still be verified.
var openChallenge = squirrel.And{
	squirrel.Eq{"consumed_at": nil},
	squirrel.Eq{"superseded_at": nil},
}

// ChallengeRepository implements port.ChallengeRepository using PostgreSQL.
// A partial unique index on (email, purpose) over open rows backs the
// single-active-challenge rule across instances.
type ChallengeRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewChallengeRepository constructs a challenge repository.
func NewChallengeRepository(pool pgPool) *ChallengeRepository {
	return &ChallengeRepository{
		pool:    pool,
		builder: newBuilder(),
	}
}

// Issue supersedes open challenges for the email and purpose and inserts the new one
// in a single transaction. A concurrent issuer losing the race gets repository.ErrConflict.
func (r *ChallengeRepository) Issue(ctx context.Context, challenge domain.OTPChallenge) (err error) {
	supersede, supersedeArgs, err := r.builder.Update(challengesTable).
		Set("superseded_at", challenge.IssuedAt).
		Where(squirrel.Eq{"email": challenge.Email, "purpose": string(challenge.Purpose)}).
		Where(openChallenge).
		ToSql()
	if err != nil {
		return fmt.Errorf("build supersede challenge sql: %w", err)
	}

	insert, insertArgs, err := r.builder.Insert(challengesTable).
		Columns(
			"id",
			"email",
			"purpose",
			"code_hash",
			"transaction_token_hash",
			"attempts_remaining",
			"issued_at",
			"expires_at",
		).
		Values(
			challenge.ID,
			challenge.Email,
			string(challenge.Purpose),
			challenge.CodeHash,
			challenge.TransactionTokenHash,
			challenge.AttemptsRemaining,
			challenge.IssuedAt,
			challenge.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert challenge sql: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin issue challenge: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, supersede, supersedeArgs...); err != nil {
		return fmt.Errorf("supersede challenges: %w", err)
	}

	if _, err = tx.Exec(ctx, insert, insertArgs...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert challenge: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit issue challenge: %w", err)
	}
	return nil
}

// Latest returns the most recently issued challenge for the email and purpose.
func (r *ChallengeRepository) Latest(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	stmt, args, err := r.builder.Select(challengeColumns...).
		From(challengesTable).
		Where(squirrel.Eq{"email": email, "purpose": string(purpose)}).
		OrderBy("issued_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest challenge sql: %w", err)
	}
	return r.getOne(ctx, stmt, args)
}

// GetByTransactionHash looks a challenge up by the hash of its transaction token.
func (r *ChallengeRepository) GetByTransactionHash(ctx context.Context, hash string) (*domain.OTPChallenge, error) {
	stmt, args, err := r.builder.Select(challengeColumns...).
		From(challengesTable).
		Where(squirrel.Eq{"transaction_token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build challenge by transaction sql: %w", err)
	}
	return r.getOne(ctx, stmt, args)
}

// DecrementAttempts spends one attempt on an open challenge that still has attempts left.
func (r *ChallengeRepository) DecrementAttempts(ctx context.Context, id string) (int, error) {
	stmt, args, err := r.builder.Update(challengesTable).
		Set("attempts_remaining", squirrel.Expr("attempts_remaining - 1")).
		Where(squirrel.Eq{"id": id}).
		Where(openChallenge).
		Where(squirrel.Gt{"attempts_remaining": 0}).
		Suffix("RETURNING attempts_remaining").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build decrement attempts sql: %w", err)
	}

	var remaining int
	if err := r.pool.QueryRow(ctx, stmt, args...).Scan(&remaining); err != nil {
		if isNoRows(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("decrement attempts: %w", err)
	}
	return remaining, nil
}

// Consume marks an open challenge consumed. Only one caller can win.
func (r *ChallengeRepository) Consume(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(challengesTable).
		Set("consumed_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(openChallenge).
		ToSql()
	if err != nil {
		return fmt.Errorf("build consume challenge sql: %w", err)
	}

	ct, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	return nil
}

// PurgeExpired deletes challenges that expired before the supplied moment.
func (r *ChallengeRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete(challengesTable).
		Where(squirrel.Lt{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge challenges sql: %w", err)
	}

	ct, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge challenges: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *ChallengeRepository) getOne(ctx context.Context, stmt string, args []any) (*domain.OTPChallenge, error) {
	var (
		ch      domain.OTPChallenge
		purpose string
	)

	err := r.pool.QueryRow(ctx, stmt, args...).Scan(
		&ch.ID,
		&ch.Email,
		&purpose,
		&ch.CodeHash,
		&ch.TransactionTokenHash,
		&ch.AttemptsRemaining,
		&ch.IssuedAt,
		&ch.ExpiresAt,
		&ch.ConsumedAt,
		&ch.SupersededAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}

	ch.Purpose = domain.OTPPurpose(purpose)
	return &ch, nil
}

var _ port.ChallengeRepository = (*ChallengeRepository)(nil)
