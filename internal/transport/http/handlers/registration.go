package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

// RegistrationFlows drives the three registration steps.
type RegistrationFlows interface {
	StartRegistration(ctx context.Context, email string) (*usecase.FlowStep, error)
	VerifyRegistration(ctx context.Context, transactionToken, code string) (*usecase.FlowStep, error)
	CompleteRegistration(ctx context.Context, registrationToken string, profile domain.Profile) (*domain.User, error)
}

// RegistrationHandler exposes the registration endpoints.
type RegistrationHandler struct {
	flows    RegistrationFlows
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(flows RegistrationFlows, validate *validator.Validate, logger *zap.Logger) *RegistrationHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationHandler{flows: flows, validate: validate, logger: logger}
}

// Register godoc
// @Summary Start a registration
// @Description Sends a verification code to the address.
// @Tags Registration
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} FlowStepResponse
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/register [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req EmailRequest
	if !bind(c, h.validate, &req) {
		return
	}

	step, err := h.flows.StartRegistration(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "verification code sent", transactionStep(step))
}

// Verify godoc
// @Summary Verify the registration code
// @Tags Registration
// @Accept json
// @Produce json
// @Param X-Transaction-Token header string true "Token returned by /auth/register"
// @Param request body OTPRequest true "Code"
// @Success 200 {object} FlowStepResponse
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /api/v1/auth/register/verify [post]
func (h *RegistrationHandler) Verify(c *gin.Context) {
	tx, ok := requireHeader(c, transactionTokenHeader)
	if !ok {
		return
	}

	var req OTPRequest
	if !bind(c, h.validate, &req) {
		return
	}

	step, err := h.flows.VerifyRegistration(c.Request.Context(), tx, req.OTP)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "email verified", registrationStep(step))
}

// Complete godoc
// @Summary Complete the registration profile
// @Description Creates the account in pending status. An administrator must approve it before login.
// @Tags Registration
// @Accept json
// @Produce json
// @Param X-Registration-Token header string true "Token returned by /auth/register/verify"
// @Param request body ProfileRequest true "Profile"
// @Success 201 {object} RegistrationResponse
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/auth/register/complete [post]
func (h *RegistrationHandler) Complete(c *gin.Context) {
	token, ok := requireHeader(c, registrationTokenHeader)
	if !ok {
		return
	}

	var req ProfileRequest
	if !bind(c, h.validate, &req) {
		return
	}

	user, err := h.flows.CompleteRegistration(c.Request.Context(), token, domain.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusCreated, "registration complete, awaiting approval", RegistrationResponse{
		State: domain.StateComplete,
		User:  userSummary(user),
	})
}
