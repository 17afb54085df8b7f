package mail

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends rendered templates over SMTP.
type SMTPMailer struct {
	dialer    dialer
	from      string
	templates *Templates
}

// NewSMTPMailer builds a mailer from the mail settings.
func NewSMTPMailer(cfg config.MailSettings, templates *Templates) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	return &SMTPMailer{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:      cfg.From,
		templates: templates,
	}, nil
}

// Send renders kind with data and delivers it to the recipient.
func (m *SMTPMailer) Send(ctx context.Context, to string, kind domain.MailKind, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.compose(to, kind, data)
	if err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send %s: %w", kind, err)
	}
	return nil
}

func (m *SMTPMailer) compose(to string, kind domain.MailKind, data map[string]string) (*gomail.Message, error) {
	subject, body, err := m.templates.Render(kind, data)
	if err != nil {
		return nil, err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg, nil
}

var _ port.Mailer = (*SMTPMailer)(nil)
