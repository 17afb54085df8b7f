package domain

import "time"

// OTPPurpose scopes a challenge to a single flow.
type OTPPurpose string

const (
	PurposeLogin         OTPPurpose = "login"
	PurposeRegister      OTPPurpose = "register"
	PurposePasswordReset OTPPurpose = "password-reset"
	PurposeEmailVerify   OTPPurpose = "email-verify"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposePasswordReset, PurposeEmailVerify:
		return true
	}
	return false
}

// OTPChallenge is a pending one-time-code verification. Only the salted code
// hash and the transaction token hash are stored.
type OTPChallenge struct {
	ID                   string
	Email                string
	Purpose              OTPPurpose
	CodeHash             string
	TransactionTokenHash string
	AttemptsRemaining    int
	IssuedAt             time.Time
	ExpiresAt            time.Time
	ConsumedAt           *time.Time
	SupersededAt         *time.Time
}

// Open reports whether the challenge has been neither consumed nor superseded.
func (c OTPChallenge) Open() bool {
	return c.ConsumedAt == nil && c.SupersededAt == nil
}

// Expired reports whether the challenge is past its expiry at the supplied moment.
func (c OTPChallenge) Expired(at time.Time) bool {
	return !at.Before(c.ExpiresAt)
}

// Active reports whether the challenge can still be verified.
func (c OTPChallenge) Active(at time.Time) bool {
	return c.Open() && !c.Expired(at) && c.AttemptsRemaining > 0
}
