package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

const internalMessage = "internal server error"

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Status resolves the HTTP status and machine-readable code for an error kind.
func Status(kind domain.ErrorKind) (int, string) {
	switch kind {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case domain.KindEmailExists:
		return http.StatusConflict, "EMAIL_EXISTS"
	case domain.KindInvalidOTP:
		return http.StatusUnauthorized, "INVALID_OTP"
	case domain.KindOTPExpired:
		return http.StatusUnauthorized, "OTP_EXPIRED"
	case domain.KindTooManyAttempts:
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS"
	case domain.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case domain.KindInvalidToken:
		return http.StatusUnauthorized, "INVALID_TOKEN"
	case domain.KindTokenExpired:
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case domain.KindAccountPending:
		return http.StatusForbidden, "ACCOUNT_PENDING"
	case domain.KindAccountRejected:
		return http.StatusForbidden, "ACCOUNT_REJECTED"
	case domain.KindAccountInactive:
		return http.StatusForbidden, "ACCOUNT_INACTIVE"
	case domain.KindUnauthorized:
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case domain.KindInsufficientPermissions:
		return http.StatusForbidden, "INSUFFICIENT_PERMISSIONS"
	case domain.KindPinSetupRequired:
		return http.StatusForbidden, "PIN_SETUP_REQUIRED"
	case domain.KindPinLocked:
		return http.StatusTooManyRequests, "PIN_LOCKED"
	case domain.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case domain.KindInternal:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{
		Success: true,
		Message: message,
		Data:    data,
		TraceID: traceID(c),
	})
}

// Fail writes the error envelope for err. Internal errors are logged and their
// details withheld from the client.
func Fail(c *gin.Context, log *zap.Logger, err error) {
	status, body := render(c, log, err)
	c.JSON(status, body)
}

// Abort is Fail for middleware: the remaining handlers are skipped.
func Abort(c *gin.Context, log *zap.Logger, err error) {
	status, body := render(c, log, err)
	c.AbortWithStatusJSON(status, body)
}

// Invalid writes a 400 envelope with a caller-facing message.
func Invalid(c *gin.Context, message string) {
	status, code := Status(domain.KindInvalidRequest)
	c.JSON(status, Envelope{Error: message, Code: code, TraceID: traceID(c)})
}

func render(c *gin.Context, log *zap.Logger, err error) (int, Envelope) {
	kind := domain.KindOf(err)
	status, code := Status(kind)

	message := internalMessage
	if kind == domain.KindInternal {
		if log == nil {
			log = zap.NewNop()
		}
		log.Error("request failed",
			zap.String("request_id", logger.RequestID(c.Request.Context())),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	} else {
		var de *domain.Error
		if errors.As(err, &de) {
			message = de.Message
		}
	}

	return status, Envelope{Error: message, Code: code, TraceID: traceID(c)}
}

func traceID(c *gin.Context) string {
	if value, ok := c.Get("trace_id"); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
