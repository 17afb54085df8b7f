package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
)

// AccountManager covers the administrative account operations.
type AccountManager interface {
	ChangeStatus(ctx context.Context, actor domain.Identity, userID string, status domain.UserStatus) (*domain.User, error)
	ChangeRole(ctx context.Context, actor domain.Identity, userID string, role domain.Role) (*domain.User, error)
	ListPending(ctx context.Context, limit, offset int) ([]domain.User, error)
}

// AdminHandler exposes account approval and role management.
type AdminHandler struct {
	accounts AccountManager
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(accounts AccountManager, validate *validator.Validate, logger *zap.Logger) *AdminHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{accounts: accounts, validate: validate, logger: logger}
}

// Pending godoc
// @Summary List accounts awaiting approval
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Offset"
// @Success 200 {array} UserResponse
// @Failure 403 {object} response.Envelope
// @Router /api/v1/admin/users/pending [get]
func (h *AdminHandler) Pending(c *gin.Context, _ domain.Identity) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}

	users, err := h.accounts.ListPending(c.Request.Context(), limit, offset)
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}

	out := make([]*UserResponse, 0, len(users))
	for i := range users {
		out = append(out, userSummary(&users[i]))
	}
	response.OK(c, http.StatusOK, "", out)
}

// ChangeStatus godoc
// @Summary Approve, reject or deactivate an account
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body StatusChangeRequest true "New status"
// @Success 200 {object} UserResponse
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/admin/users/{id}/status [patch]
func (h *AdminHandler) ChangeStatus(c *gin.Context, actor domain.Identity) {
	var req StatusChangeRequest
	if !bind(c, h.validate, &req) {
		return
	}

	user, err := h.accounts.ChangeStatus(c.Request.Context(), actor, c.Param("id"), domain.UserStatus(req.Status))
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "status updated", userSummary(user))
}

// ChangeRole godoc
// @Summary Change the role of an account
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body RoleChangeRequest true "New role"
// @Success 200 {object} UserResponse
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/admin/users/{id}/role [patch]
func (h *AdminHandler) ChangeRole(c *gin.Context, actor domain.Identity) {
	var req RoleChangeRequest
	if !bind(c, h.validate, &req) {
		return
	}

	user, err := h.accounts.ChangeRole(c.Request.Context(), actor, c.Param("id"), domain.Role(req.Role))
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}
	response.OK(c, http.StatusOK, "role updated", userSummary(user))
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		response.Invalid(c, name+" must be a non-negative integer")
		return 0, false
	}
	return value, true
}
