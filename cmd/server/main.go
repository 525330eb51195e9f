package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/auth"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/cache"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/config"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/event"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/persistence"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/handler"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Entitlement API
//	@version		1.0
//	@description	Subscription entitlement resolution, trial activation and access guard
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting entitlement service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := meterProvider.Meter("entitlement")
	metrics, err := telemetry.NewEntitlementMetrics(meter)
	if err != nil {
		log.Warn("Entitlement metrics disabled", zap.Error(err))
		metrics = nil
	}

	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.DBTraceEnabled
	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:   log,
		LogLevel: cfg.Log.Level,
		Tracing:  dbTracing,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	stores, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).Create(ctx)
	if err != nil {
		log.Fatal("Failed to initialize entitlement cache", zap.Error(err))
	}

	feed, err := newChangeFeed(cfg, stores, log)
	if err != nil {
		log.Fatal("Failed to initialize change feed", zap.Error(err))
	}

	var revocations auth.RevocationList = auth.NewInMemoryRevocationList()
	if stores.Client != nil {
		revocations = auth.NewRedisRevocationList(stores.Client)
	}

	bus := event.NewInMemoryEventBus(log)

	store := appentitlement.NewStoreClient(persistence.NewGormEntitlementRepository(db.DB),
		appentitlement.WithStoreTimeout(cfg.Entitlement.StoreTimeout),
		appentitlement.WithChangeNotifier(feed),
		appentitlement.WithStoreLogger(log),
		appentitlement.WithStoreMetrics(metrics),
	)
	resolver := appentitlement.NewResolver(store, stores.Slots,
		appentitlement.WithMaxCacheTrust(cfg.Entitlement.CacheTrustWindow()),
		appentitlement.WithResolverLogger(log),
		appentitlement.WithResolverMetrics(metrics),
	)
	trials := appentitlement.NewTrialService(store, resolver, stores.Markers, bus,
		appentitlement.WithTrialDuration(cfg.Entitlement.TrialDuration),
		appentitlement.WithCatchUpDelay(cfg.Entitlement.CatchUpDelay()),
		appentitlement.WithTrialLogger(log),
		appentitlement.WithTrialMetrics(metrics),
	)
	admin := appentitlement.NewAdminService(store, resolver, bus, log)

	queue := appentitlement.NewInvalidationQueue(resolver,
		appentitlement.WithListenerBuffer(cfg.Entitlement.QueueBuffer),
		appentitlement.WithQueueLogger(log),
		appentitlement.WithQueueMetrics(metrics),
	)
	invalidations := appentitlement.NewInvalidationHandler(queue)
	bus.Subscribe(invalidations, invalidations.EventTypes()...)
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// A failed feed leaves the queue serving bus and visibility triggers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers errgroup.Group
	workers.Go(func() error {
		queue.Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		err := queue.ConsumeFeed(workerCtx, feed)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, persistence.ErrFeedClosed) {
			return nil
		}
		log.Error("Change feed stopped", zap.Error(err))
		return err
	})

	sweeper := appentitlement.NewExpiredSweeper(store, bus, cfg.Entitlement.SweepBatchSize, log, metrics)
	if cfg.Entitlement.SweepEnabled {
		if err := sweeper.Start(cfg.Entitlement.SweepSchedule); err != nil {
			log.Fatal("Failed to schedule expired entitlement sweep", zap.Error(err))
		}
	}

	checks := []handler.HealthCheck{{Name: "database", Check: db.Ping}}
	if stores.Client != nil {
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return stores.Client.Ping(ctx).Err()
		}})
	}

	stream := handler.NewEntitlementStreamHandler(queue, resolver,
		handler.WithStreamLogger(log),
		handler.WithStreamHeartbeat(cfg.Entitlement.StreamHeartbeat),
		handler.WithStreamMaxClients(cfg.HTTP.MaxStreams),
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := router.NewEngine(router.EngineConfig{
		Tokens:         auth.NewJWTService(cfg.JWT),
		Revocations:    revocations,
		Resolver:       resolver,
		Trials:         trials,
		LandingPath:    cfg.Entitlement.LandingPath,
		HomePath:       cfg.Entitlement.HomePath,
		AllowOrigins:   cfg.HTTP.AllowOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateLimit:      cfg.HTTP.RateLimit,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Meter:   meter,
		Metrics: metrics,
		Logger:  log,
	}, router.Handlers{
		System:      handler.NewSystemHandler(cfg.App.Name, version, checks...),
		Auth:        handler.NewAuthHandler(revocations, bus),
		Entitlement: handler.NewEntitlementHandler(resolver, queue, trials),
		Stream:      stream,
		Admin:       handler.NewAdminEntitlementHandler(admin),
		Workspace:   handler.NewWorkspaceHandler(),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Streams never finish on their own, so close them before draining HTTP
	stream.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	engine.Close()

	sweeper.Stop(shutdownCtx)

	if err := feed.Close(); err != nil {
		log.Warn("Error closing change feed", zap.Error(err))
	}
	queue.Drain(shutdownCtx)
	cancelWorkers()
	_ = workers.Wait()

	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Error stopping event bus", zap.Error(err))
	}
	if err := stores.Close(); err != nil {
		log.Warn("Error closing entitlement cache", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newChangeFeed selects the realtime change source. Postgres notifications
// come from the store itself; the Redis and local feeds carry what the store
// client publishes after each write.
func newChangeFeed(cfg *config.Config, stores *cache.Stores, log *zap.Logger) (entitlement.ChangeFeed, error) {
	switch cfg.Entitlement.ChangeFeed {
	case config.ChangeFeedPostgres:
		return persistence.NewPostgresChangeFeed(cfg.Database.DSN(), cfg.Entitlement.ChangeChannel, log)
	case config.ChangeFeedRedis:
		if stores.Client == nil {
			log.Warn("Redis change feed requested without Redis, using in-process feed")
			return cache.NewLocalChangeFeed(cfg.Entitlement.QueueBuffer), nil
		}
		return cache.NewRedisChangeFeed(stores.Client, cfg.Entitlement.ChangeChannel, log), nil
	default:
		return cache.NewLocalChangeFeed(cfg.Entitlement.QueueBuffer), nil
	}
}
