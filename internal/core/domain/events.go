package domain

import "time"

// UserRegisteredEvent is published once a registration completes.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Email        string
	Role         Role
	Status       UserStatus
	RegisteredAt time.Time
}

// UserStatusChangedEvent records an administrative status transition.
type UserStatusChangedEvent struct {
	EventID        string
	UserID         string
	PreviousStatus UserStatus
	Status         UserStatus
	ChangedBy      string
	ChangedAt      time.Time
	TokensRevoked  int
}

// UserRoleChangedEvent records an administrative role change.
type UserRoleChangedEvent struct {
	EventID      string
	UserID       string
	PreviousRole Role
	Role         Role
	ChangedBy    string
	ChangedAt    time.Time
}

// TokensRevokedEvent is published when refresh tokens are revoked in bulk.
type TokensRevokedEvent struct {
	EventID   string
	UserID    string
	FamilyID  string
	Reason    string
	Count     int
	RevokedAt time.Time
}

// RefreshReuseDetectedEvent is published when a revoked refresh token is replayed.
type RefreshReuseDetectedEvent struct {
	EventID    string
	UserID     string
	FamilyID   string
	TokenID    string
	DeviceID   string
	DetectedAt time.Time
}
