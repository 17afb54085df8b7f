package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

// LogMailer records outgoing mail in the log instead of sending it.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to string, kind domain.MailKind, data map[string]string) error {
	fields := []zap.Field{
		zap.String("to", logger.MaskEmail(to)),
		zap.String("kind", string(kind)),
	}
	if code, ok := data["code"]; ok {
		// Local delivery only; LogMailer is never wired when mail is enabled.
		fields = append(fields, zap.String("code", code))
	}
	m.logger.Info("mail not sent (delivery disabled)", fields...)
	return nil
}

var _ port.Mailer = (*LogMailer)(nil)
