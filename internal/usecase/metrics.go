package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

// Metrics receives auth outcome counters. telemetry.AuthMetrics satisfies it.
type Metrics interface {
	OTPIssued(purpose string)
	OTPVerified(purpose, result string)
	LoginCompleted(method, result string)
	RefreshRotated(result string)
	RefreshReuseDetected()
	PINLocked()
}

// Hasher hashes and verifies low-entropy secrets such as PINs and OTP codes.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

type nopMetrics struct{}

func (nopMetrics) OTPIssued(string)             {}
func (nopMetrics) OTPVerified(string, string)    {}
func (nopMetrics) LoginCompleted(string, string) {}
func (nopMetrics) RefreshRotated(string)         {}
func (nopMetrics) RefreshReuseDetected()         {}
func (nopMetrics) PINLocked()                    {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// resultLabel collapses an error into a bounded metric label.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return domain.KindOf(err).String()
}

// withRequest scopes l to the request id carried by ctx.
func withRequest(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := logger.RequestID(ctx); id != "" {
		return l.With(zap.String("request_id", id))
	}
	return l
}
