package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/response"
)

var (
	errMissingAuthorization   = &domain.Error{Kind: domain.KindUnauthorized, Message: "missing authorization header"}
	errMalformedAuthorization = &domain.Error{Kind: domain.KindUnauthorized, Message: "invalid authorization format: expected 'Bearer <token>'"}
)

// TokenVerifier resolves a bearer access token into a verified identity.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*domain.Identity, error)
}

// IdentityHandler serves a request on behalf of a verified caller.
type IdentityHandler func(c *gin.Context, identity domain.Identity)

// OptionalIdentityHandler serves a request whose caller may be anonymous.
type OptionalIdentityHandler func(c *gin.Context, identity *domain.Identity)

type routeOptions struct {
	allowPinSetup bool
}

// RouteOption relaxes the checks applied by Require and RequireRole.
type RouteOption func(*routeOptions)

// AllowPinSetup admits tokens restricted to the PIN setup step.
func AllowPinSetup() RouteOption {
	return func(o *routeOptions) {
		o.allowPinSetup = true
	}
}

// Authenticator turns identity handlers into gin handlers guarded by access
// token verification.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier TokenVerifier, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

// Require rejects anonymous or invalid callers with 401 and passes the
// verified identity to h.
func (a *Authenticator) Require(h IdentityHandler, opts ...RouteOption) gin.HandlerFunc {
	return a.RequireRole(nil, h, opts...)
}

// RequireRole is Require with an additional role check. An empty role list
// admits every authenticated caller.
func (a *Authenticator) RequireRole(roles []domain.Role, h IdentityHandler, opts ...RouteOption) gin.HandlerFunc {
	var options routeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	return func(c *gin.Context) {
		identity, err := a.authenticate(c)
		if err != nil {
			response.Abort(c, a.logger, err)
			return
		}

		if identity.PinSetupRequired && !options.allowPinSetup {
			response.Abort(c, a.logger, domain.ErrPinSetupRequired)
			return
		}

		if len(roles) > 0 && !identity.HasRole(roles...) {
			response.Abort(c, a.logger, domain.ErrInsufficientPermissions)
			return
		}

		remember(c, identity)
		h(c, *identity)
	}
}

// Optional never rejects. h receives nil when no valid token was presented.
func (a *Authenticator) Optional(h OptionalIdentityHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			h(c, nil)
			return
		}

		identity, err := a.authenticate(c)
		if err != nil {
			a.logger.Debug("optional authentication ignored", zap.String("code", domain.KindOf(err).String()))
			h(c, nil)
			return
		}

		remember(c, identity)
		h(c, identity)
	}
}

func (a *Authenticator) authenticate(c *gin.Context) (*domain.Identity, error) {
	token, err := bearerToken(c.GetHeader("Authorization"))
	if err != nil {
		return nil, err
	}
	return a.verifier.VerifyAccess(c.Request.Context(), token)
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingAuthorization
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMalformedAuthorization
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMissingAuthorization
	}
	return token, nil
}

func remember(c *gin.Context, identity *domain.Identity) {
	c.Set(UserIDKey, identity.UserID)
	if reqCtx := GetRequestContext(c); reqCtx != nil {
		reqCtx.UserID = identity.UserID
	}
}
