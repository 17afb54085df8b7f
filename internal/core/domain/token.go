package domain

import "time"

// RefreshToken represents a persisted refresh token (stored as a hash). Tokens
// produced by successive rotations from one login share a FamilyID.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	FamilyID     string
	ParentID     *string
	DeviceID     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// Revoked reports whether the record can no longer be redeemed.
func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// RevokedFor reports whether the record was revoked with the given reason.
func (t RefreshToken) RevokedFor(reason string) bool {
	return t.RevokedAt != nil && t.RevokeReason != nil && *t.RevokeReason == reason
}

// Expired reports whether the token is past its expiry at the supplied moment.
func (t RefreshToken) Expired(at time.Time) bool {
	return !at.Before(t.ExpiresAt)
}

// TokenPair is the session credential handed to clients.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshTokenID   string
	FamilyID         string
	TokenType        string
}

// Identity is the verified caller derived from an access token.
type Identity struct {
	UserID           string
	Role             Role
	Status           UserStatus
	DeviceID         string
	FamilyID         string
	TokenID          string
	PinSetupRequired bool
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// HasRole reports whether the identity holds any of the supplied roles.
func (i Identity) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRotated      = "rotated"
	RevokeReasonLogout       = "logout"
	RevokeReasonLogoutAll    = "logout_all"
	RevokeReasonReuse        = "reuse_detected"
	RevokeReasonPinChanged   = "pin_changed"
	RevokeReasonStatusChange = "status_changed"
	RevokeReasonRoleChange   = "role_changed"
)
