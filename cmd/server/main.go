package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	identityapp "github.com/supplychain/backend/internal/application/identity"
	integrationapp "github.com/supplychain/backend/internal/application/integration"
	kycapp "github.com/supplychain/backend/internal/application/kyc"
	notificationapp "github.com/supplychain/backend/internal/application/notification"
	onboardingapp "github.com/supplychain/backend/internal/application/onboarding"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/auth"
	"github.com/supplychain/backend/internal/infrastructure/cache"
	"github.com/supplychain/backend/internal/infrastructure/config"
	"github.com/supplychain/backend/internal/infrastructure/connector"
	"github.com/supplychain/backend/internal/infrastructure/event"
	"github.com/supplychain/backend/internal/infrastructure/logger"
	"github.com/supplychain/backend/internal/infrastructure/persistence"
	"github.com/supplychain/backend/internal/infrastructure/scheduler"
	"github.com/supplychain/backend/internal/infrastructure/secrets"
	"github.com/supplychain/backend/internal/infrastructure/storage"
	"github.com/supplychain/backend/internal/infrastructure/telemetry"
	"github.com/supplychain/backend/internal/interfaces/http/handler"
	"github.com/supplychain/backend/internal/interfaces/http/middleware"
	"github.com/supplychain/backend/internal/interfaces/http/router"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logCfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = log.Sync()
		stop()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(ctx context.Context, cfg *config.Config, logCfg *logger.Config, log *zap.Logger) error {
	// Telemetry
	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown incomplete", zap.Error(err))
		}
	}()
	if providers.Logs.IsEnabled() {
		// Rebuild the logger so every entry is also exported over OTLP
		otelCore := providers.Logs.ZapCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level))
		if withOtel, err := logger.New(logCfg, otelCore); err == nil {
			log = withOtel
		} else {
			log.Warn("OTLP log export unavailable", zap.Error(err))
		}
	}

	log.Info("Starting supply-chain integration backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", Version),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbSystem := "postgresql"
		if db.Driver == persistence.DriverSQLite {
			dbSystem = "sqlite"
		}
		if err := telemetry.NewDBTracing(dbSystem, cfg.Telemetry.DBSlowQueryThresh, log).Register(db.DB); err != nil {
			return fmt.Errorf("db tracing: %w", err)
		}
	}
	if db.Driver == persistence.DriverSQLite {
		// postgres schemas come from cmd/migrate
		if err := db.AutoMigrate(); err != nil {
			return err
		}
	}
	log.Info("Database connected", zap.String("driver", db.Driver))

	// Redis backs token revocation and event idempotency when enabled
	var redisClient *redis.Client
	var blacklist auth.TokenBlacklist = auth.NewInMemoryTokenBlacklist()
	var idempotency shared.IdempotencyStore
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if cfg.App.IsProduction() {
				return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr(), err)
			}
			log.Warn("Redis unavailable, using in-memory stores", zap.Error(err))
			redisClient = nil
		}
	}
	if redisClient != nil {
		blacklist = auth.NewRedisTokenBlacklist(redisClient)
		idempotency = cache.NewRedisStoreWithClient(redisClient, cache.DefaultKeyPrefix)
	} else {
		mem := cache.NewMemoryStore(cache.DefaultSweepInterval)
		defer mem.Close()
		idempotency = mem
	}

	// Repositories
	userRepo := persistence.NewGormUserRepository(db.DB)
	integrationRepo := persistence.NewGormIntegrationRepository(db.DB)
	recordRepo := persistence.NewGormSyncedRecordRepository(db.DB)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	notificationRepo := persistence.NewGormNotificationRepository(db.DB)
	kycRepo := persistence.NewGormKYCRepository(db.DB)
	onboardingRepo := persistence.NewGormOnboardingRepository(db.DB)

	// Events
	bus := event.NewBus(log)
	defer func() { _ = bus.Stop(context.Background()) }()
	notificationService := notificationapp.NewService(notificationRepo, log)
	bus.Subscribe(event.NewIdempotentHandler("notifier",
		notificationapp.NewEventNotifier(notificationService, log), idempotency, log))

	// Object storage for KYC documents and the sync payload archive
	objects, err := newObjectStorage(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Integrations
	cipher, err := secrets.NewAgeCipher(cfg.Secrets, cfg.App.IsProduction(), log)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	mappings, err := connector.NewYAMLMappingProvider(cfg.Mapping.OverrideFile, log)
	if err != nil {
		return fmt.Errorf("field mappings: %w", err)
	}
	if cfg.Mapping.Watch {
		if _, err := mappings.WatchOverrides(ctx); err != nil {
			log.Warn("Mapping override watch disabled", zap.Error(err))
		}
	}
	syncMetrics, err := telemetry.NewSyncMetrics(providers.Meter.Meter(telemetry.MeterName))
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	managerOpts := []integrationapp.ManagerOption{
		integrationapp.WithLogger(log),
		integrationapp.WithMetrics(syncMetrics),
	}
	if cfg.Storage.ArchiveEnabled {
		archive, err := storage.NewPayloadArchive(objects, storage.WithArchiveLogger(log))
		if err != nil {
			return err
		}
		defer archive.Close()
		managerOpts = append(managerOpts, integrationapp.WithArchive(archive))
	}
	manager := integrationapp.NewManager(integrationapp.ManagerDeps{
		Integrations: integrationRepo,
		Records:      recordRepo,
		Runs:         runRepo,
		Adapters:     connector.NewDefaultFactory(connector.ConfigFromSync(cfg.Sync), log),
		Mappings:     mappings,
		Cipher:       cipher,
		Events:       bus,
	}, integrationapp.ManagerConfig{
		PageSize:            cfg.Sync.PageSize,
		MaxPages:            cfg.Sync.MaxPages,
		PushBatchSize:       cfg.Sync.PushBatchSize,
		FanOutConcurrency:   cfg.Sync.FanOutConcurrency,
		DefaultSyncInterval: cfg.Sync.DefaultInterval,
	}, managerOpts...)

	// Scheduled sync
	if cfg.Sync.SchedulerEnabled {
		syncScheduler, err := scheduler.NewSyncScheduler(
			scheduler.SchedulerConfigFromSync(cfg.Sync),
			scheduler.NewManagerExecutor(manager, log),
			log,
		)
		if err != nil {
			return fmt.Errorf("sync scheduler: %w", err)
		}
		if err := syncScheduler.Start(ctx); err != nil {
			return err
		}
		trigger := scheduler.NewCronTrigger(
			scheduler.CronTriggerConfig{CheckInterval: cfg.Sync.CheckInterval},
			syncScheduler, integrationRepo, log,
		)
		if err := trigger.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := trigger.Stop(stopCtx); err != nil {
				log.Warn("Cron trigger did not stop cleanly", zap.Error(err))
			}
			if err := syncScheduler.Stop(stopCtx); err != nil {
				log.Warn("Sync scheduler did not stop cleanly", zap.Error(err))
			}
		}()
	}

	// Identity
	jwtService := auth.NewJWTService(cfg.JWT)
	authService := identityapp.NewAuthService(userRepo, jwtService, blacklist, identityapp.AuthServiceConfig{
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
		LockDuration:     cfg.Auth.LockDuration,
	}, log)
	if err := bootstrapAdmin(ctx, cfg.Auth, authService); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	kycService := kycapp.NewService(kycRepo, objects, bus, log)
	onboardingService := onboardingapp.NewService(onboardingRepo, log)

	// HTTP
	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitBurst)
		go limiter.Run(ctx, time.Minute)
	}
	engine := router.NewEngine(router.EngineConfig{
		HTTP:           cfg.HTTP,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MeterProvider:  providers.Meter,
		RateLimiter:    limiter,
		Logger:         log,
	})
	router.Mount(engine, router.Handlers{
		System:       handler.NewSystemHandler(Version, healthChecks(db, redisClient)),
		Auth:         handler.NewAuthHandler(authService),
		Integration:  handler.NewIntegrationHandler(manager),
		Notification: handler.NewNotificationHandler(notificationService),
		KYC:          handler.NewKYCHandler(kycService),
		Onboarding:   handler.NewOnboardingHandler(onboardingService),
	}, jwtService, log)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exited gracefully")
	return nil
}

// objectStorage is what KYC uploads and the payload archive need
type objectStorage interface {
	storage.ObjectStore
	kycapp.DocumentStorage
}

// newObjectStorage returns S3 when a bucket is configured, otherwise an
// in-memory store that loses everything on restart
func newObjectStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (objectStorage, error) {
	if cfg.Storage.Bucket == "" {
		if cfg.App.IsProduction() {
			return nil, errors.New("storage.bucket is required in production")
		}
		log.Warn("No storage bucket configured, keeping documents and archives in memory")
		return storage.NewMemoryObjectStorage(), nil
	}
	s3, err := storage.NewS3ObjectStorage(&cfg.Storage,
		storage.WithLogger(log),
		storage.WithUploadURLExpiry(cfg.Storage.UploadURLExpiry),
	)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	return s3, nil
}

func bootstrapAdmin(ctx context.Context, cfg config.AuthConfig, svc *identityapp.AuthService) error {
	if cfg.BootstrapUsername == "" {
		return nil
	}
	tenantID, err := uuid.Parse(cfg.BootstrapTenantID)
	if err != nil {
		return fmt.Errorf("invalid auth.bootstrap_tenant_id: %w", err)
	}
	_, err = svc.BootstrapAdmin(ctx, tenantID, cfg.BootstrapUsername, cfg.BootstrapPassword)
	return err
}

func healthChecks(db *persistence.Database, redisClient *redis.Client) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
