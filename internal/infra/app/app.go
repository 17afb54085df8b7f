package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/config"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/database"
	kafkainfra "github.com/kgtech-org/process-manager-sub004/internal/infra/kafka"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/mail"
	redisinfra "github.com/kgtech-org/process-manager-sub004/internal/infra/redis"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/security"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/telemetry"
	postgresrepo "github.com/kgtech-org/process-manager-sub004/internal/repository/postgres"
	redisrepo "github.com/kgtech-org/process-manager-sub004/internal/repository/redis"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/handlers"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/middleware"
	"github.com/kgtech-org/process-manager-sub004/internal/transport/http/routes"
	"github.com/kgtech-org/process-manager-sub004/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application owns every long-lived resource of the API process.
type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	dispatcher *mail.Dispatcher
	otp        *usecase.OTPService
}

// New wires configuration, stores, services and the HTTP router.
func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.App.AutoMigrate {
		if err := migrateUp(cfg, log); err != nil {
			return nil, err
		}
	}

	if a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log); err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log); err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	registry := prometheus.DefaultRegisterer
	authMetrics, err := telemetry.NewAuthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	repos := postgresrepo.NewRepositories(a.pool)
	redisClient := a.redis.Client()
	flowTokens := redisrepo.NewFlowTokenRepository(redisClient, cfg.Redis.FlowTokenPrefix)
	statusCache := redisrepo.NewStatusCacheRepository(redisClient, cfg.Redis.StatusCachePrefix)
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient, redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       2 * cfg.RateLimit.WindowDuration,
	})

	events := a.eventPublisher(authMetrics)

	mailer, err := a.mailer(authMetrics)
	if err != nil {
		return nil, err
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init argon2 hasher: %w", err)
	}

	keys, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory, cfg.JWT.KeyID)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager, err := security.NewJWTManager(keys, security.JWTConfig{
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		ClockSkew: cfg.JWT.ClockSkew,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	a.otp = usecase.NewOTPService(cfg.OTP, repos.Challenges, hasher, mailer, authMetrics, log, cfg.App.DevMode)
	tokens := usecase.NewTokenService(cfg.JWT, jwtManager, repos.RefreshTokens, repos.Users, statusCache, events, authMetrics, log)
	sessions := usecase.NewSessionService(cfg.OTP, cfg.PIN, repos.Users, a.otp, tokens, flowTokens, hasher, events, authMetrics, log)
	accounts := usecase.NewAccountService(repos.Users, tokens, events, mailer, log)

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Validator:   handlers.NewValidator(),
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log),
		HTTPMetrics: httpMetrics,
		Services: routes.ServiceSet{
			Sessions: sessions,
			Tokens:   tokens,
			Accounts: accounts,
		},
		Keys:     jwtManager,
		Database: a.pool,
		Cache:    a.redis,
	})

	if cfg.App.DevMode {
		log.Warn("development mode enabled: one-time codes are echoed in API responses")
	}

	return a, nil
}

func migrateUp(cfg *config.AppConfig, log *zap.Logger) error {
	migrator, err := database.NewMigrator(cfg.Postgres, cfg.App.MigrationsPath, log)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() {
		_ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (a *Application) eventPublisher(metrics *telemetry.AuthMetrics) port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, events are logged only")
		return kafkainfra.NewLogPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, events are logged only", zap.Error(err))
		return kafkainfra.NewLogPublisher(a.logger)
	}
	producer.OnError(metrics.EventPublishFailed)
	a.producer = producer
	return kafkainfra.NewEventPublisher(producer, a.cfg.App)
}

func (a *Application) mailer(metrics *telemetry.AuthMetrics) (port.Mailer, error) {
	var transport port.Mailer = mail.NewLogMailer(a.logger)

	if a.cfg.Mail.Enabled {
		templates, err := mail.NewTemplates()
		if err != nil {
			return nil, fmt.Errorf("load mail templates: %w", err)
		}
		smtp, err := mail.NewSMTPMailer(a.cfg.Mail, templates)
		if err != nil {
			return nil, fmt.Errorf("init smtp mailer: %w", err)
		}
		transport = smtp
	}

	a.dispatcher = mail.NewDispatcher(transport, a.cfg.Mail.Workers, a.cfg.Mail.QueueSize, a.logger,
		mail.WithFailureHook(func(kind domain.MailKind) {
			metrics.MailFailed(string(kind))
		}),
	)
	return a.dispatcher, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runJanitor(janitorCtx)

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down auth API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// runJanitor purges OTP challenges that expired longer than the retention ago.
func (a *Application) runJanitor(ctx context.Context) {
	interval := a.cfg.Janitor.Interval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().UTC().Add(-a.cfg.Janitor.Retention)
			purged, err := a.otp.PurgeExpired(ctx, before)
			if err != nil {
				a.logger.Warn("otp purge failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				a.logger.Info("expired otp challenges purged", zap.Int64("count", purged))
			}
		}
	}
}

func (a *Application) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
