package domain

import "time"

// FlowState is a step of the login or registration state machine.
type FlowState string

const (
	StateAwaitingEmail    FlowState = "awaiting_email"
	StateAwaitingOTP      FlowState = "awaiting_otp"
	StateAwaitingPIN      FlowState = "awaiting_pin"
	StateAwaitingPinSetup FlowState = "awaiting_pin_setup"
	StateAwaitingProfile  FlowState = "awaiting_profile"
	StateAuthenticated    FlowState = "authenticated"
	StateComplete         FlowState = "complete"
)

// FlowTokenKind distinguishes bearer tokens that bind later flow steps.
type FlowTokenKind string

const (
	FlowTokenRegistration FlowTokenKind = "registration"
)

// FlowToken is the server-side record behind a registration token. It scopes
// the profile step to the email proven in the OTP step.
type FlowToken struct {
	Kind      FlowTokenKind
	Email     string
	Purpose   OTPPurpose
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Profile is the data collected in the last registration step.
type Profile struct {
	FirstName string
	LastName  string
	Phone     string
}
