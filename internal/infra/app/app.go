package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/credential-policy/internal/core/port"
	"github.com/arklim/credential-policy/internal/infra/config"
	"github.com/arklim/credential-policy/internal/infra/database"
	kafkainfra "github.com/arklim/credential-policy/internal/infra/kafka"
	"github.com/arklim/credential-policy/internal/infra/logger"
	redisinfra "github.com/arklim/credential-policy/internal/infra/redis"
	"github.com/arklim/credential-policy/internal/infra/security"
	"github.com/arklim/credential-policy/internal/infra/telemetry"
	postgresrepo "github.com/arklim/credential-policy/internal/repository/postgres"
	redisrepo "github.com/arklim/credential-policy/internal/repository/redis"
	sqliterepo "github.com/arklim/credential-policy/internal/repository/sqlite"
	"github.com/arklim/credential-policy/internal/transport/http/middleware"
	"github.com/arklim/credential-policy/internal/transport/http/routes"
	"github.com/arklim/credential-policy/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	tracer   *telemetry.TracerProvider
	producer *kafkainfra.Producer
	closers  []func() error
}

// store bundles the selected adapter with its readiness check and teardown.
type store struct {
	accounts port.AccountRepository
	checker  routes.StoreChecker
	close    func() error
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	application := &Application{cfg: cfg, logger: log}

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		application.tracer = tp
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		application.shutdownTelemetry()
		return nil, fmt.Errorf("init %s store: %w", cfg.Store.Driver, err)
	}
	application.closers = append(application.closers, st.close)

	hasher, err := security.NewHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		application.release()
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	var strength port.PasswordStrengthChecker
	if checker := security.NewStrengthChecker(cfg.Policy.MinPasswordStrength); checker != nil {
		strength = checker
	}

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, cfg.App.Name, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			application.producer = kafkaProducer
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	policies, err := usecase.NewPolicies(cfg.Policy)
	if err != nil {
		application.release()
		return nil, fmt.Errorf("init policies: %w", err)
	}

	policyMetrics := telemetry.NewPolicyMetrics(nil)
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		application.release()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	history := usecase.NewHistoryPolicy(hasher, st.accounts, policies.HistoryWindow)

	application.engine = routes.Register(routes.Dependencies{
		Config: cfg,
		Logger: log,
		Services: routes.ServiceSet{
			Auth:      usecase.NewAuthService(st.accounts, hasher, policies, eventPublisher, policyMetrics, log),
			Passwords: usecase.NewPasswordService(st.accounts, history, policies.Lockout, strength, eventPublisher, policyMetrics, log),
			Accounts:  usecase.NewAccountService(st.accounts, hasher, strength, policies, eventPublisher, log),
		},
		Store:   st.checker,
		Metrics: httpMetrics,
	})

	log.Info("credential policies configured",
		zap.String("store", cfg.Store.Driver),
		zap.Int("max_login_attempts", policies.Lockout.MaxAttempts()),
		zap.Duration("lock_expiration", policies.Lockout.LockExpiration()),
		zap.Duration("password_change_interval", policies.Aging.Interval()),
		zap.Int("history_window", policies.HistoryWindow),
		zap.Bool("enforce_first_login_change", policies.EnforceFirstLoginChange),
	)

	return application, nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return &store{
			accounts: postgresrepo.NewAccountRepositoryFromPool(pool),
			checker:  pool,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	case config.StoreDriverSQLite:
		db, err := database.NewSQLite(ctx, cfg.SQLite, log)
		if err != nil {
			return nil, err
		}
		return &store{
			accounts: sqliterepo.NewAccountRepository(db),
			checker:  routes.StoreCheckerFunc(db.PingContext),
			close:    db.Close,
		}, nil
	case config.StoreDriverRedis:
		client, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return &store{
			accounts: redisrepo.NewAccountRepository(client.Client(), cfg.Redis.KeyPrefix, cfg.Redis.MaxRetries),
			checker:  client,
			close:    client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.shutdownTelemetry()
	defer a.release()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting credential policy API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.Bool("admin_token_set", a.cfg.App.AdminToken != ""),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release closes the producer before the store so in-flight events are flushed first.
func (a *Application) release() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *Application) shutdownTelemetry() {
	if a.tracer == nil {
		return
	}
	if err := a.tracer.Shutdown(context.Background()); err != nil {
		a.logger.Warn("failed to shutdown tracer provider", zap.Error(err))
	}
	a.tracer = nil
}
