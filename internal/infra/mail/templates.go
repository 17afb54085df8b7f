package mail

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

type messageTemplate struct {
	subject string
	body    *template.Template
}

// Templates renders the subject and plain-text body for each mail kind.
type Templates struct {
	byKind map[domain.MailKind]messageTemplate
}

var builtinTemplates = map[domain.MailKind]struct{ subject, body string }{
	domain.MailLoginCode: {
		subject: "Your sign-in code",
		body: `Hello,

Your sign-in code is {{.code}}. It expires in {{.expires_in}}.

If you did not try to sign in, you can ignore this message.
`,
	},
	domain.MailRegistrationCode: {
		subject: "Confirm your email address",
		body: `Welcome,

Use the code {{.code}} to confirm your email address. It expires in {{.expires_in}}.
`,
	},
	domain.MailPinResetCode: {
		subject: "Reset your PIN",
		body: `Hello,

Use the code {{.code}} to reset your PIN. It expires in {{.expires_in}}.

If you did not request a PIN reset, contact your administrator.
`,
	},
	domain.MailVerifyCode: {
		subject: "Verify your email address",
		body: `Hello,

Your verification code is {{.code}}. It expires in {{.expires_in}}.
`,
	},
	domain.MailAccountApproved: {
		subject: "Your account has been approved",
		body: `Hello {{.name}},

Your account has been approved. You can now sign in.
`,
	},
	domain.MailAccountRejected: {
		subject: "Your account request",
		body: `Hello {{.name}},

Your account request was not approved. Contact your administrator for details.
`,
	},
}

// NewTemplates parses the built-in templates.
func NewTemplates() (*Templates, error) {
	t := &Templates{byKind: make(map[domain.MailKind]messageTemplate, len(builtinTemplates))}
	for kind, src := range builtinTemplates {
		body, err := template.New(string(kind)).Option("missingkey=zero").Parse(src.body)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		t.byKind[kind] = messageTemplate{subject: src.subject, body: body}
	}
	return t, nil
}

// Render returns the subject and body for kind.
func (t *Templates) Render(kind domain.MailKind, data map[string]string) (string, string, error) {
	tpl, ok := t.byKind[kind]
	if !ok {
		return "", "", fmt.Errorf("no template for mail kind %q", kind)
	}

	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return tpl.subject, buf.String(), nil
}
