package domain

import (
	"strings"
	"time"
)

// Role enumerates the access levels a user can hold.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusRejected UserStatus = "rejected"
	UserStatusInactive UserStatus = "inactive"
)

// Valid reports whether s is a known account status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusPending, UserStatusActive, UserStatusRejected, UserStatusInactive:
		return true
	}
	return false
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID                string
	Email             string
	FirstName         string
	LastName          string
	Phone             *string
	Role              Role
	Status            UserStatus
	PinHash           *string
	PinFailedAttempts int
	PinLockedUntil    *time.Time
	PinChangedAt      *time.Time
	EmailVerified     bool
	LastLoginAt       *time.Time
	StatusChangedAt   *time.Time
	StatusChangedBy   *string
	RoleChangedAt     *time.Time
	RoleChangedBy     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasPIN reports whether a PIN has been configured.
func (u User) HasPIN() bool {
	return u.PinHash != nil && *u.PinHash != ""
}

// PinLocked reports whether PIN login is locked at the supplied moment.
func (u User) PinLocked(at time.Time) bool {
	return u.PinLockedUntil != nil && u.PinLockedUntil.After(at)
}

// AccountState is the slice of a user that access tokens are bound to.
type AccountState struct {
	UserID string
	Role   Role
	Status UserStatus
}

// State extracts the token-relevant account state.
func (u User) State() AccountState {
	return AccountState{UserID: u.ID, Role: u.Role, Status: u.Status}
}

// NormalizeEmail lower-cases and trims an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckStatus gates authentication on the account status. Only active accounts pass.
func CheckStatus(status UserStatus) error {
	switch status {
	case UserStatusActive:
		return nil
	case UserStatusPending:
		return ErrAccountPending
	case UserStatusRejected:
		return ErrAccountRejected
	case UserStatusInactive:
		return ErrAccountInactive
	default:
		return ErrAccountInactive
	}
}
