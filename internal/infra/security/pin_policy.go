package security

import "fmt"

// PINLength is the number of digits in a PIN.
const PINLength = 6

// PINViolation describes why a PIN was refused.
type PINViolation struct {
	Code    string
	Message string
}

func (v *PINViolation) Error() string {
	if v == nil {
		return ""
	}
	return v.Message
}

// PINRule checks one property of a candidate PIN.
type PINRule func(pin string) error

// PINPolicy applies rules in order and reports the first violation.
type PINPolicy struct {
	rules []PINRule
}

// NewPINPolicy builds a policy from rules.
func NewPINPolicy(rules ...PINRule) *PINPolicy {
	return &PINPolicy{rules: append([]PINRule(nil), rules...)}
}

// DefaultPINPolicy requires six digits that are neither commonly chosen nor a straight run.
func DefaultPINPolicy() *PINPolicy {
	return NewPINPolicy(DigitsRule(PINLength), NotCommonRule(), NotSequentialRule())
}

// Validate returns a *PINViolation when pin breaks a rule.
func (p *PINPolicy) Validate(pin string) error {
	for _, rule := range p.rules {
		if err := rule(pin); err != nil {
			return err
		}
	}
	return nil
}

// DigitsRule requires exactly length ASCII digits.
func DigitsRule(length int) PINRule {
	return func(pin string) error {
		if len(pin) != length {
			return &PINViolation{Code: "pin_length", Message: fmt.Sprintf("PIN must be exactly %d digits", length)}
		}
		for i := 0; i < len(pin); i++ {
			if pin[i] < '0' || pin[i] > '9' {
				return &PINViolation{Code: "pin_digits", Message: "PIN must contain digits only"}
			}
		}
		return nil
	}
}

var commonPINs = map[string]struct{}{
	"123456": {}, "654321": {}, "123123": {}, "111222": {},
	"112233": {}, "121212": {}, "123321": {}, "102030": {},
	"010203": {},
}

// NotCommonRule refuses repeated-digit PINs and a list of frequently chosen ones.
func NotCommonRule() PINRule {
	return func(pin string) error {
		if _, ok := commonPINs[pin]; ok || repeated(pin) {
			return &PINViolation{Code: "pin_common", Message: "PIN is too common"}
		}
		return nil
	}
}

// NotSequentialRule refuses ascending or descending runs such as 234567 or 876543.
func NotSequentialRule() PINRule {
	return func(pin string) error {
		if sequential(pin, 1) || sequential(pin, -1) {
			return &PINViolation{Code: "pin_sequential", Message: "PIN must not be a sequence"}
		}
		return nil
	}
}

func repeated(pin string) bool {
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			return false
		}
	}
	return len(pin) > 0
}

func sequential(pin string, step int) bool {
	if len(pin) < 2 {
		return false
	}
	for i := 1; i < len(pin); i++ {
		if int(pin[i])-int(pin[i-1]) != step {
			return false
		}
	}
	return true
}
