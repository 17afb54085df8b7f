package logger

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base *zap.Logger
	once sync.Once
)

// RequestIDKey stores the request identifier on a context.
type RequestIDKey struct{}

// New builds the process-wide logger once. Production uses JSON output; every other
// environment gets the colored console encoder.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.InitialFields = map[string]any{"env": env}

		base, err = cfg.Build()
	})
	return base, err
}

// L returns the process logger, or a no-op logger before New has run.
func L() *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base
}

// WithContext returns the process logger annotated with the request id found on ctx.
func WithContext(ctx context.Context) *zap.Logger {
	lg := L()
	if id := RequestID(ctx); id != "" {
		return lg.With(zap.String("request_id", id))
	}
	return lg
}

// RequestID reads the request identifier from ctx.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey{}).(string)
	return id
}

// MaskEmail keeps the first character of the local part and the domain:
// alice@example.com -> a***@example.com.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskIP hides the host part of an address: 192.168.1.100 -> 192.168.*.*.
func MaskIP(ip string) string {
	switch {
	case ip == "":
		return ""
	case strings.Count(ip, ".") == 3:
		parts := strings.Split(ip, ".")
		return parts[0] + "." + parts[1] + ".*.*"
	case strings.Contains(ip, ":"):
		parts := strings.Split(ip, ":")
		if len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*"
		}
	}
	return "***"
}

// MaskToken keeps a short prefix of a bearer value for correlation.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:6] + "***"
}
