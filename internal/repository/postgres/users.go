package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

const usersTable = "auth.users"

var userColumns = []string{
	"id",
	"email",
	"first_name",
	"last_name",
	"phone",
	"role",
	"status",
	"pin_hash",
	"pin_failed_attempts",
	"pin_locked_until",
	"pin_changed_at",
	"email_verified",
	"last_login_at",
	"status_changed_at",
	"status_changed_by",
	"role_changed_at",
	"role_changed_by",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create inserts a new user row. A clash on the email index yields repository.ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert(usersTable).
		Columns(
			"id",
			"email",
			"first_name",
			"last_name",
			"phone",
			"role",
			"status",
			"email_verified",
			"created_at",
			"updated_at",
		).
		Values(
			user.ID,
			domain.NormalizeEmail(user.Email),
			user.FirstName,
			user.LastName,
			user.Phone,
			string(user.Role),
			string(user.Status),
			user.EmailVerified,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Expr("lower(email) = ?", domain.NormalizeEmail(email)))
}

// ExistsByEmail reports whether an account already uses the email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From(usersTable).
		Where(squirrel.Expr("lower(email) = ?", domain.NormalizeEmail(email))).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists user sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// UpdateStatus sets the account status and records who changed it.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status domain.UserStatus, changedBy string, at time.Time) error {
	return r.update(ctx, "update user status", id, map[string]any{
		"status":            string(status),
		"status_changed_at": at,
		"status_changed_by": changedBy,
		"updated_at":        at,
	})
}

// UpdateRole sets the account role and records who changed it.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role domain.Role, changedBy string, at time.Time) error {
	return r.update(ctx, "update user role", id, map[string]any{
		"role":            string(role),
		"role_changed_at": at,
		"role_changed_by": changedBy,
		"updated_at":      at,
	})
}

// SetPIN stores a new PIN hash and clears the failure counter.
func (r *UserRepository) SetPIN(ctx context.Context, id, pinHash string, at time.Time) error {
	return r.update(ctx, "set user pin", id, map[string]any{
		"pin_hash":            pinHash,
		"pin_changed_at":      at,
		"pin_failed_attempts": 0,
		"pin_locked_until":    nil,
		"updated_at":          at,
	})
}

// RecordPINFailure increments the failure counter and, once it reaches
// maxAttempts, locks PIN login until lockUntil. The counter restarts after a lock.
func (r *UserRepository) RecordPINFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (port.PinFailure, error) {
	stmt, args, err := r.builder.Update(usersTable).
		Set("pin_failed_attempts", squirrel.Expr(
			"CASE WHEN pin_failed_attempts + 1 >= ? THEN 0 ELSE pin_failed_attempts + 1 END", maxAttempts)).
		Set("pin_locked_until", squirrel.Expr(
			"CASE WHEN pin_failed_attempts + 1 >= ? THEN ?::timestamptz ELSE pin_locked_until END", maxAttempts, lockUntil)).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING pin_failed_attempts, pin_locked_until").
		ToSql()
	if err != nil {
		return port.PinFailure{}, fmt.Errorf("build record pin failure sql: %w", err)
	}

	var (
		attempts    int
		lockedUntil *time.Time
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts, &lockedUntil); err != nil {
		if isNoRows(err) {
			return port.PinFailure{}, repository.ErrNotFound
		}
		return port.PinFailure{}, fmt.Errorf("record pin failure: %w", err)
	}

	return port.PinFailure{Attempts: attempts, LockedUntil: lockedUntil}, nil
}

// ResetPINFailures clears the failure counter after a successful PIN login.
func (r *UserRepository) ResetPINFailures(ctx context.Context, id string) error {
	return r.update(ctx, "reset pin failures", id, map[string]any{
		"pin_failed_attempts": 0,
		"pin_locked_until":    nil,
	})
}

// TouchLastLogin records the time of the latest successful login.
func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "touch last login", id, map[string]any{
		"last_login_at": at,
	})
}

// List returns users with optional filtering and pagination.
func (r *UserRepository) List(ctx context.Context, filter port.UserFilter) ([]domain.User, error) {
	query := r.builder.Select(userColumns...).
		From(usersTable).
		OrderBy("created_at DESC")

	if filter.Status != nil {
		query = query.Where(squirrel.Eq{"status": string(*filter.Status)})
	}
	if filter.Role != nil {
		query = query.Where(squirrel.Eq{"role": string(*filter.Role)})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) update(ctx context.Context, op, id string, fields map[string]any) error {
	stmt, args, err := r.builder.Update(usersTable).
		SetMap(fields).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user   domain.User
		role   string
		status string
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&role,
		&status,
		&user.PinHash,
		&user.PinFailedAttempts,
		&user.PinLockedUntil,
		&user.PinChangedAt,
		&user.EmailVerified,
		&user.LastLoginAt,
		&user.StatusChangedAt,
		&user.StatusChangedBy,
		&user.RoleChangedAt,
		&user.RoleChangedBy,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	user.Status = domain.UserStatus(status)
	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
