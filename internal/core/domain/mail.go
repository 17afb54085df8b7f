package domain

// MailKind selects the template used for an outgoing message.
type MailKind string

const (
	MailLoginCode        MailKind = "login_code"
	MailRegistrationCode MailKind = "registration_code"
	MailPinResetCode     MailKind = "pin_reset_code"
	MailVerifyCode       MailKind = "email_verify_code"
	MailAccountApproved  MailKind = "account_approved"
	MailAccountRejected  MailKind = "account_rejected"
)

// MailKindForPurpose maps an OTP purpose to the template delivering its code.
func MailKindForPurpose(p OTPPurpose) MailKind {
	switch p {
	case PurposeRegister:
		return MailRegistrationCode
	case PurposePasswordReset:
		return MailPinResetCode
	case PurposeEmailVerify:
		return MailVerifyCode
	default:
		return MailLoginCode
	}
}
