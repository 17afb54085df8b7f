package domain

import "errors"

// ErrorKind classifies failures surfaced to clients.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidRequest
	KindEmailExists
	KindInvalidOTP
	KindOTPExpired
	KindTooManyAttempts
	KindRateLimited
	KindInvalidToken
	KindTokenExpired
	KindAccountPending
	KindAccountRejected
	KindAccountInactive
	KindUnauthorized
	KindInsufficientPermissions
	KindPinSetupRequired
	KindPinLocked
	KindNotFound
)

var kindNames = map[ErrorKind]string{
	KindInternal:                "internal",
	KindInvalidRequest:          "invalid_request",
	KindEmailExists:             "email_exists",
	KindInvalidOTP:              "invalid_otp",
	KindOTPExpired:              "otp_expired",
	KindTooManyAttempts:         "too_many_attempts",
	KindRateLimited:             "rate_limited",
	KindInvalidToken:            "invalid_token",
	KindTokenExpired:            "token_expired",
	KindAccountPending:          "account_pending",
	KindAccountRejected:         "account_rejected",
	KindAccountInactive:         "account_inactive",
	KindUnauthorized:            "unauthorized",
	KindInsufficientPermissions: "insufficient_permissions",
	KindPinSetupRequired:        "pin_setup_required",
	KindPinLocked:               "pin_locked",
	KindNotFound:                "not_found",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a typed failure carrying its kind. Instances below are sentinels and
// are compared by identity.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	ErrEmailExists             = newError(KindEmailExists, "email already registered")
	ErrInvalidOTP              = newError(KindInvalidOTP, "invalid otp")
	ErrOTPExpired              = newError(KindOTPExpired, "otp expired")
	ErrTooManyAttempts         = newError(KindTooManyAttempts, "too many attempts")
	ErrRateLimited             = newError(KindRateLimited, "too many requests, try again later")
	ErrInvalidToken            = newError(KindInvalidToken, "invalid token")
	ErrTokenExpired            = newError(KindTokenExpired, "token expired")
	ErrAccountPending          = newError(KindAccountPending, "account pending approval")
	ErrAccountRejected         = newError(KindAccountRejected, "account rejected")
	ErrAccountInactive         = newError(KindAccountInactive, "account inactive")
	ErrUnauthorized            = newError(KindUnauthorized, "unauthorized")
	ErrInsufficientPermissions = newError(KindInsufficientPermissions, "insufficient permissions")
	ErrPinSetupRequired        = newError(KindPinSetupRequired, "pin setup required")
	ErrPinLocked               = newError(KindPinLocked, "pin login temporarily locked")
	ErrUserNotFound            = newError(KindNotFound, "user not found")
)

// Invalid builds an invalid-request error with a caller-facing message.
func Invalid(message string) *Error {
	return newError(KindInvalidRequest, message)
}

// KindOf extracts the kind of err. Anything that is not a domain error is internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
