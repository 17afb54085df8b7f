package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	appLogger "github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/middleware"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

// LoginFlows is the part of the session service behind the login and session endpoints.
type LoginFlows interface {
	StartLogin(ctx context.Context, email string, forceOTP bool) (*usecase.FlowStep, error)
	CompleteLoginOTP(ctx context.Context, transactionToken, code, deviceID string) (*usecase.LoginResult, error)
	LoginWithPIN(ctx context.Context, email, pin, deviceID string) (*usecase.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, identity domain.Identity) (int, error)
}

// ProfileReader loads the caller's own account.
type ProfileReader interface {
	Me(ctx context.Context, identity domain.Identity) (*domain.User, error)
}

// AuthHandler exposes the login and session endpoints.
type AuthHandler struct {
	sessions LoginFlows
	profiles ProfileReader
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(sessions LoginFlows, profiles ProfileReader, validate *validator.Validate, logger *zap.Logger) *AuthHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		sessions: sessions,
		profiles: profiles,
		validate: validate,
		logger:   logger,
		now:      time.Now,
	}
}

// Login godoc
// @Summary Start a login
// @Description Sends a one-time code, or reports that a PIN can be used instead.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} FlowStepResponse
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, h.validate, &req) {
		return
	}

	step, err := h.sessions.StartLogin(c.Request.Context(), req.Email, req.ForceOTP)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}

	message := "verification code sent"
	if step.State == domain.StateAwaitingPIN {
		message = "enter your PIN"
	}
	response.OK(c, http.StatusOK, message, transactionStep(step))
}

// VerifyLogin godoc
// @Summary Complete a login with a one-time code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param X-Transaction-Token header string true "Token returned by /auth/login"
// @Param request body OTPRequest true "Code"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/login/verify [post]
func (h *AuthHandler) VerifyLogin(c *gin.Context) {
	tx, ok := requireHeader(c, transactionTokenHeader)
	if !ok {
		return
	}

	var req OTPRequest
	if !bind(c, h.validate, &req) {
		return
	}

	result, err := h.sessions.CompleteLoginOTP(c.Request.Context(), tx, req.OTP, deviceID(c, req.DeviceID))
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	h.respondLogin(c, result)
}

// LoginWithPIN godoc
// @Summary Log in with a PIN
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body PINLoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/login/pin [post]
func (h *AuthHandler) LoginWithPIN(c *gin.Context) {
	var req PINLoginRequest
	if !bind(c, h.validate, &req) {
		return
	}

	result, err := h.sessions.LoginWithPIN(c.Request.Context(), req.Email, req.PIN, deviceID(c, req.DeviceID))
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	h.respondLogin(c, result)
}

func (h *AuthHandler) respondLogin(c *gin.Context, result *usecase.LoginResult) {
	message := "login successful"
	if result.State == domain.StateAwaitingPinSetup {
		message = "set a PIN to continue"
	}
	response.OK(c, http.StatusOK, message, LoginResponse{
		State:  result.State,
		Tokens: tokenPair(result.Pair, h.now()),
		User:   userSummary(result.User),
	})
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} TokenPairResponse
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bind(c, h.validate, &req) {
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "token refreshed", tokenPair(pair, h.now()))
}

// Logout godoc
// @Summary Revoke the presented refresh token
// @Description Always answers 204. Missing, unknown or already revoked tokens are ignored.
// @Tags Authentication
// @Accept json
// @Param request body LogoutRequest false "Refresh token"
// @Success 204
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("ignoring malformed logout body", zap.Error(err))
	}

	if req.RefreshToken != "" && h.validate.Struct(&req) == nil {
		if err := h.sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
			h.logger.Error("logout revoke failed",
				zap.String("request_id", appLogger.RequestID(c.Request.Context())),
				zap.Error(err),
			)
		}
	}
	c.Status(http.StatusNoContent)
}

// RevokeAll godoc
// @Summary Revoke every refresh token of the caller
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} RevokedResponse
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/revoke-all-tokens [post]
func (h *AuthHandler) RevokeAll(c *gin.Context, identity domain.Identity) {
	count, err := h.sessions.LogoutAll(c.Request.Context(), identity)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "all sessions revoked", RevokedResponse{Revoked: count})
}

// Me godoc
// @Summary Current user profile
// @Tags Authentication
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context, identity domain.Identity) {
	user, err := h.profiles.Me(c.Request.Context(), identity)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "", userSummary(user))
}

// Session godoc
// @Summary Describe the caller, anonymous or authenticated
// @Tags Authentication
// @Produce json
// @Success 200 {object} SessionResponse
// @Router /api/v1/auth/session [get]
func (h *AuthHandler) Session(c *gin.Context, identity *domain.Identity) {
	if identity == nil {
		response.OK(c, http.StatusOK, "", SessionResponse{State: domain.StateAwaitingEmail})
		return
	}

	state := domain.StateAuthenticated
	if identity.PinSetupRequired {
		state = domain.StateAwaitingPinSetup
	}
	response.OK(c, http.StatusOK, "", SessionResponse{
		State:         state,
		Authenticated: true,
		Identity: &IdentityResponse{
			UserID:           identity.UserID,
			Role:             identity.Role,
			Status:           identity.Status,
			DeviceID:         identity.DeviceID,
			PinSetupRequired: identity.PinSetupRequired,
			ExpiresAt:        identity.ExpiresAt,
		},
	})
}

func requireHeader(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.GetHeader(name))
	if value == "" {
		response.Invalid(c, "missing "+name+" header")
		return "", false
	}
	return value, true
}

func deviceID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return middleware.GetRequestContext(c).DeviceID
}
