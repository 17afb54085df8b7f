package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

// PINFlows covers PIN setup, reset and status.
type PINFlows interface {
	SetPIN(ctx context.Context, identity domain.Identity, pin, confirm string) (*usecase.LoginResult, error)
	RequestPINReset(ctx context.Context, email string) (*usecase.FlowStep, error)
	ResetPIN(ctx context.Context, transactionToken, code, pin, confirm string) error
	PINStatus(ctx context.Context, email string) (*usecase.PINState, error)
}

// PINHandler exposes the PIN endpoints.
type PINHandler struct {
	flows    PINFlows
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewPINHandler constructs PINHandler.
func NewPINHandler(flows PINFlows, validate *validator.Validate, logger *zap.Logger) *PINHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PINHandler{flows: flows, validate: validate, logger: logger, now: time.Now}
}

// Set godoc
// @Summary Set or replace the PIN
// @Description Revokes every session of the caller and returns a fresh token pair.
// @Tags PIN
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body SetPINRequest true "PIN"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} response.Envelope
// @Router /api/v1/auth/pin [post]
func (h *PINHandler) Set(c *gin.Context, identity domain.Identity) {
	var req SetPINRequest
	if !bind(c, h.validate, &req) {
		return
	}

	result, err := h.flows.SetPIN(c.Request.Context(), identity, req.PIN, req.ConfirmPIN)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "PIN set", LoginResponse{
		State:  result.State,
		Tokens: tokenPair(result.Pair, h.now()),
		User:   userSummary(result.User),
	})
}

// RequestReset godoc
// @Summary Request a PIN reset code
// @Tags PIN
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} FlowStepResponse
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/pin/reset/request [post]
func (h *PINHandler) RequestReset(c *gin.Context) {
	var req EmailRequest
	if !bind(c, h.validate, &req) {
		return
	}

	step, err := h.flows.RequestPINReset(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "verification code sent", transactionStep(step))
}

// Reset godoc
// @Summary Reset the PIN with a one-time code
// @Tags PIN
// @Accept json
// @Produce json
// @Param X-Transaction-Token header string true "Token returned by /auth/pin/reset/request"
// @Param request body ResetPINRequest true "Code and new PIN"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/pin/reset [post]
func (h *PINHandler) Reset(c *gin.Context) {
	tx, ok := requireHeader(c, transactionTokenHeader)
	if !ok {
		return
	}

	var req ResetPINRequest
	if !bind(c, h.validate, &req) {
		return
	}

	if err := h.flows.ResetPIN(c.Request.Context(), tx, req.OTP, req.PIN, req.ConfirmPIN); err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "PIN reset, please log in again", nil)
}

// Status godoc
// @Summary Report whether PIN login is available for an address
// @Tags PIN
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} PINStatusResponse
// @Router /api/v1/auth/pin/status [post]
func (h *PINHandler) Status(c *gin.Context) {
	var req EmailRequest
	if !bind(c, h.validate, &req) {
		return
	}

	state, err := h.flows.PINStatus(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "", PINStatusResponse{
		HasPIN:      state.HasPIN,
		Locked:      state.Locked,
		LockedUntil: state.LockedUntil,
	})
}
