package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/handlers"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/middleware"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Sessions *usecase.SessionService
	Tokens   *usecase.TokenService
	Accounts *usecase.AccountService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Validator   *validator.Validate
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Services    ServiceSet
	Keys        handlers.KeySet
	Database    Pinger
	Cache       Pinger
}

// Pinger is a dependency probed by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config == nil {
		deps.Config = &config.AppConfig{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = handlers.NewValidator()
	}
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}
	r.Use(middleware.Timeout(deps.Config.App.RequestTimeout))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.Ping))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", metricsHandler(deps.Gatherer))
	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys, deps.Logger).Keys)

	authn := middleware.NewAuthenticator(deps.Services.Tokens, deps.Logger)
	limits := newLimits(deps)

	authHandler := handlers.NewAuthHandler(deps.Services.Sessions, deps.Services.Accounts, deps.Validator, deps.Logger)
	registrationHandler := handlers.NewRegistrationHandler(deps.Services.Sessions, deps.Validator, deps.Logger)
	pinHandler := handlers.NewPINHandler(deps.Services.Sessions, deps.Validator, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Services.Accounts, deps.Validator, deps.Logger)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")

		auth.POST("/register", limits.chain(registrationHandler.Register, limits.otp, limits.register)...)
		auth.POST("/register/verify", limits.chain(registrationHandler.Verify, limits.verify)...)
		auth.POST("/register/complete", limits.chain(registrationHandler.Complete, limits.register)...)

		auth.POST("/login", limits.chain(authHandler.Login, limits.otp)...)
		auth.POST("/login/verify", limits.chain(authHandler.VerifyLogin, limits.verify)...)
		auth.POST("/login/pin", limits.chain(authHandler.LoginWithPIN, limits.pin)...)
		auth.POST("/refresh", limits.chain(authHandler.Refresh, limits.refresh)...)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/revoke-all-tokens", authn.Require(authHandler.RevokeAll))
		auth.GET("/me", authn.Require(authHandler.Me, middleware.AllowPinSetup()))
		auth.GET("/session", authn.Optional(authHandler.Session))

		auth.POST("/pin", authn.Require(pinHandler.Set, middleware.AllowPinSetup()))
		auth.POST("/pin/reset/request", limits.chain(pinHandler.RequestReset, limits.otp)...)
		auth.POST("/pin/reset", limits.chain(pinHandler.Reset, limits.verify)...)
		auth.POST("/pin/status", limits.chain(pinHandler.Status, limits.pin)...)

		admin := api.Group("/admin/users")
		admin.GET("/pending", authn.RequireRole([]domain.Role{domain.RoleAdmin, domain.RoleManager}, adminHandler.Pending))
		admin.PATCH("/:id/status", authn.RequireRole([]domain.Role{domain.RoleAdmin, domain.RoleManager}, adminHandler.ChangeStatus))
		admin.PATCH("/:id/role", authn.RequireRole([]domain.Role{domain.RoleAdmin}, adminHandler.ChangeRole))
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// limits holds one middleware per rate-limit family. A nil entry means the
// family is disabled.
type limits struct {
	otp      gin.HandlerFunc
	verify   gin.HandlerFunc
	pin      gin.HandlerFunc
	refresh  gin.HandlerFunc
	register gin.HandlerFunc
}

func newLimits(deps Dependencies) limits {
	if deps.RateLimiter == nil {
		return limits{}
	}

	cfg := deps.Config.RateLimit
	window := cfg.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	build := func(name string, limit int, identifiers ...namedIdentifier) gin.HandlerFunc {
		if limit <= 0 {
			return nil
		}
		rules := make([]middleware.RateLimitRule, 0, len(identifiers))
		for _, id := range identifiers {
			rules = append(rules, middleware.RateLimitRule{
				Name:       name + "_" + id.suffix,
				Limit:      limit,
				Window:     window,
				Identifier: id.fn,
			})
		}
		return deps.RateLimiter.RateLimit(rules...)
	}

	byIP := namedIdentifier{suffix: "ip", fn: middleware.ClientIPIdentifier()}
	byTransaction := namedIdentifier{suffix: "tx", fn: middleware.HeaderIdentifier("X-Transaction-Token")}

	return limits{
		otp:      build("otp", cfg.OTPMaxAttempts, byIP),
		verify:   build("verify", cfg.VerifyMaxAttempts, byIP, byTransaction),
		pin:      build("pin", cfg.PINMaxAttempts, byIP),
		refresh:  build("refresh", cfg.RefreshMaxAttempts, byIP),
		register: build("register", cfg.RegisterMaxAttempts, byIP),
	}
}

type namedIdentifier struct {
	suffix string
	fn     middleware.IdentifierFunc
}

func (l limits) chain(handler gin.HandlerFunc, middlewares ...gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	for _, m := range middlewares {
		if m != nil {
			chain = append(chain, m)
		}
	}
	return append(chain, handler)
}
