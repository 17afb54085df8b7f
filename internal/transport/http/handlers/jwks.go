package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
)

const jwksCacheControl = "public, max-age=3600"

// KeySet renders the public verification keys as a JWK set.
type KeySet interface {
	JWKS() ([]byte, error)
}

// JWKSHandler publishes the keys services use to verify access tokens offline.
type JWKSHandler struct {
	keys   KeySet
	logger *zap.Logger
}

// NewJWKSHandler constructs a JWKS handler.
func NewJWKSHandler(keys KeySet, logger *zap.Logger) *JWKSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSHandler{keys: keys, logger: logger}
}

// Keys godoc
// @Summary Retrieve JSON Web Key Set
// @Tags Public
// @Produce json
// @Success 200 {object} map[string]any
// @Router /.well-known/jwks.json [get]
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h.keys == nil {
		response.Fail(c, h.logger, errors.New("jwks: no key set configured"))
		return
	}

	payload, err := h.keys.JWKS()
	if err != nil {
		response.Fail(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.Data(http.StatusOK, "application/json", payload)
}
