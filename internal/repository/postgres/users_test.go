package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/repository"
)

func userRow(now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(userColumns).AddRow(
		"user-1", "alice@x.com", "Alice", "Smith", nil, "manager", "active",
		nil, 0, nil, nil, true, nil, nil, nil, nil, nil, now, now,
	)
}

func TestUserRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	user := domain.User{
		ID:            "user-1",
		Email:         "Alice@X.com",
		FirstName:     "Alice",
		LastName:      "Smith",
		Role:          domain.RoleUser,
		Status:        domain.UserStatusPending,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectExec(`INSERT INTO auth\.users`).
		WithArgs("user-1", "alice@x.com", "Alice", "Smith", pgxmock.AnyArg(), "user", "pending", true, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO auth\.users`).
		WithArgs("user-1", "alice@x.com", "Alice", "Smith", pgxmock.AnyArg(), "user", "pending", false, now, now).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_key"})

	err = repo.Create(context.Background(), domain.User{
		ID:        "user-1",
		Email:     "ALICE@x.com",
		FirstName: "Alice",
		LastName:  "Smith",
		Role:      domain.RoleUser,
		Status:    domain.UserStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByEmailIgnoresCase(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM auth\.users WHERE lower\(email\) = \$1`).
		WithArgs("alice@x.com").
		WillReturnRows(userRow(now))

	user, err := repo.GetByEmail(context.Background(), " ALICE@x.com")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.Role != domain.RoleManager || user.Status != domain.UserStatusActive {
		t.Fatalf("unexpected role/status %s/%s", user.Role, user.Status)
	}
	if user.HasPIN() {
		t.Fatalf("expected no pin")
	}
	if user.Phone != nil {
		t.Fatalf("expected nil phone")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM auth\.users`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_UpdateStatusNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE auth\.users SET status = \$1, status_changed_at = \$2, status_changed_by = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("active", now, "admin-1", now, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateStatus(context.Background(), "missing", domain.UserStatusActive, "admin-1", now)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_RecordPINFailureLocks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)
	lockUntil := time.Now().Add(15 * time.Minute).UTC()

	mock.ExpectQuery(`UPDATE auth\.users SET pin_failed_attempts = CASE .* RETURNING pin_failed_attempts, pin_locked_until`).
		WithArgs(5, 5, lockUntil, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"pin_failed_attempts", "pin_locked_until"}).AddRow(0, &lockUntil))

	failure, err := repo.RecordPINFailure(context.Background(), "user-1", 5, lockUntil)
	if err != nil {
		t.Fatalf("RecordPINFailure returned error: %v", err)
	}
	if failure.LockedUntil == nil || !failure.LockedUntil.Equal(lockUntil) {
		t.Fatalf("expected lock until %v, got %v", lockUntil, failure.LockedUntil)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
