package port

import (
	"context"
	"time"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// ChallengeRepository persists OTP challenges. Mutations are conditional
// single-row updates so concurrent verifiers cannot both succeed.
type ChallengeRepository interface {
	// Issue stores a challenge and supersedes any open one for the same email and purpose.
	Issue(ctx context.Context, challenge domain.OTPChallenge) error
	// Latest returns the most recently issued challenge for the email and purpose.
	Latest(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error)
	GetByTransactionHash(ctx context.Context, hash string) (*domain.OTPChallenge, error)
	// DecrementAttempts spends one attempt and returns what remains. It fails with
	// repository.ErrConflict when the challenge is closed or exhausted.
	DecrementAttempts(ctx context.Context, id string) (int, error)
	// Consume marks the challenge consumed if it is still open.
	Consume(ctx context.Context, id string, at time.Time) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
