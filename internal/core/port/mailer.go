package port

import (
	"context"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
)

// Mailer delivers templated messages.
type Mailer interface {
	Send(ctx context.Context, to string, kind domain.MailKind, data map[string]string) error
}
