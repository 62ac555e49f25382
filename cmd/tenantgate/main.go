package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tenantgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
		}
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("connected to redis")
	} else {
		logger.Warn("no redis configured, cache invalidation stays local to this instance")
	}

	table := rbac.DefaultPatternTable()
	if cfg.RBAC.PatternsFile != "" {
		if table, err = rbac.LoadPatternTable(cfg.RBAC.PatternsFile); err != nil {
			return err
		}
		logger.WithField("rules", len(table.Rules())).Infof("loaded pattern table from %s", cfg.RBAC.PatternsFile)
	}
	patterns := rbac.NewPatternSource(table)

	sink, err := auditSink(cfg, redisClient, metrics, logger)
	if err != nil {
		return err
	}
	emitter := audit.NewAsyncEmitter(sink, audit.EmitterConfig{
		BufferSize: cfg.Audit.BufferSize,
		Workers:    cfg.Audit.Workers,
	}, metrics, otelMetrics, logger)

	clock := clockwork.NewRealClock()

	companies := orgs.NewStore(db, orgs.StoreConfig{StatusTTL: cfg.Database.CompanyCacheTTL})
	if err := orgs.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run company migrations: %w", err)
	}

	manager := rbac.NewManager(rbac.Dependencies{
		DB:          db,
		Redis:       redisClient,
		Patterns:    patterns,
		Companies:   companies,
		Emitter:     emitter,
		Clock:       clock,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
		Logger:      logger,
	}, cfg.RBACManagerConfig())
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(metrics)))
	manager.RegisterRoutes(router)
	orgs.NewHandlers(companies, emitter, clock, logger).RegisterRoutes(router)

	principals := middleware.NewPrincipalMiddleware(middleware.HeaderResolver{GatewayToken: cfg.Server.GatewayToken}, logger)
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		principals.Handler,
		middleware.ActiveCompanyMiddleware(companies, logger),
		manager.Middleware().Handler,
	)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(chain(router), "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	health := observability.NewHealthChecker(db, redisClient, version)
	health.AddCheck("patterns", true, func(context.Context) error {
		if len(patterns.Current().Rules()) == 0 {
			return errors.New("pattern table is empty")
		}
		return nil
	})
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	// Background work
	if cfg.RBAC.PatternsFile != "" && cfg.RBAC.WatchPatterns {
		go func() {
			defer observability.RecoverPanic(logger, "pattern watcher")
			if err := rbac.WatchPatternTable(ctx, cfg.RBAC.PatternsFile, patterns, metrics, logger); err != nil {
				logger.WithError(err).Error("pattern table watcher stopped")
			}
		}()
	}
	go func() {
		defer observability.RecoverPanic(logger, "cache invalidator")
		if err := manager.RunInvalidator(ctx, nil); err != nil {
			logger.WithError(err).Error("cache invalidator stopped")
		}
	}()

	scheduler := cron.New()
	if cfg.Sweeper.Enabled {
		if _, err := manager.Sweeper().Schedule(scheduler, cfg.Sweeper.Schedule); err != nil {
			return err
		}
		scheduler.Start()
		logger.Infof("override sweeper scheduled: %s", cfg.Sweeper.Schedule)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.OnShutdown("background", func(ctx context.Context) error {
		cancel()
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.OnShutdown("audit", emitter.Close)
	shutdown.OnShutdown("redis", func(ctx context.Context) error {
		if redisClient == nil {
			return nil
		}
		return redisClient.Close()
	})
	shutdown.OnShutdown("database", func(ctx context.Context) error { return db.Close() })
	shutdown.OnShutdown("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serverErrs := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		go func() {
			logger.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrs <- fmt.Errorf("server %s: %w", srv.Addr, err)
				cancel()
			}
		}()
	}

	err = shutdown.Wait(ctx)
	select {
	case srvErr := <-serverErrs:
		return errors.Join(srvErr, err)
	default:
		return err
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// auditSink builds the fan-out of configured audit destinations. With none
// configured, events go to the service log.
func auditSink(cfg *config.Config, client *redis.Client, metrics *observability.Metrics, logger *observability.Logger) (audit.Logger, error) {
	var sinks []audit.NamedLogger

	if cfg.Audit.Dir != "" {
		file, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Dir:      cfg.Audit.Dir,
			Rotate:   cfg.Audit.Rotate,
			MaxSize:  cfg.Audit.MaxSizeBytes,
			MaxFiles: cfg.Audit.MaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, audit.NamedLogger{Name: "file", Logger: file})
	}
	if cfg.Audit.Stream != "" && client != nil {
		sinks = append(sinks, audit.NamedLogger{
			Name:   "redis_stream",
			Logger: audit.NewRedisStreamLogger(client, cfg.Audit.Stream, cfg.Audit.StreamMaxLen),
		})
	}
	if cfg.Audit.LogEvents || len(sinks) == 0 {
		sinks = append(sinks, audit.NamedLogger{Name: "log", Logger: audit.NewLogSink(logger)})
	}
	return audit.NewMultiLogger(metrics, sinks...), nil
}
