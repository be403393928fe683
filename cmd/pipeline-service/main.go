package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/case-pipeline/internal/api/handler"
	"github.com/cuongbtq/case-pipeline/internal/api/router"
	"github.com/cuongbtq/case-pipeline/internal/capability"
	"github.com/cuongbtq/case-pipeline/internal/config"
	"github.com/cuongbtq/case-pipeline/internal/events"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
	"github.com/cuongbtq/case-pipeline/shared/logger"
	"github.com/cuongbtq/case-pipeline/shared/postgresql"
	"github.com/cuongbtq/case-pipeline/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("PIPELINE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/pipeline-service.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateServiceConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	definition, err := cfg.Pipeline.ToDefinition()
	if err != nil {
		return fmt.Errorf("invalid pipeline definition: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting pipeline service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("persistence", cfg.Persistence.Driver),
		slog.Int("stages", len(definition.Stages)),
	)

	checks := make(map[string]handler.HealthChecker)

	// Persistence
	var store storage.Store
	var dbClient *postgresql.Client
	if cfg.Persistence.Driver == config.DriverMemory {
		store = storage.NewMemoryStore()
		appLogger.Warn("Using in-memory persistence, job history is lost on restart")
	} else {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		pgStore := storage.NewPostgresStore(dbClient.GetDB())
		if cfg.Persistence.EnsureSchema {
			if err := pgStore.EnsureSchema(context.Background()); err != nil {
				return err
			}
			appLogger.Info("Database schema ensured")
		}
		store = pgStore
		checks["postgres"] = dbClient
		appLogger.Info("Database connection established")
	}

	// Events
	bus := events.NewBus(appLogger.Logger)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		bus.AddSink(events.NewAMQPSink(rabbitClient))
		checks["rabbitmq"] = brokerCheck{client: rabbitClient}
		appLogger.Info("RabbitMQ event sink enabled",
			slog.String("exchange", cfg.RabbitMQ.Exchange.Name),
		)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	capabilities := capability.NewRegistryFromConfig(cfg.HTTPCapabilities(), appLogger.Logger)

	orch, err := orchestrator.New(orchestratorConfig(cfg, appLogger.Logger, definition, capabilities, store, bus, registry))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if cfg.Orchestrator.Reload.Enabled {
		watcher, err := config.NewWatcher(*configPath, orch, cfg.Orchestrator.Reload.Debounce, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		go watcher.Run(ctx)
	}

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		ServiceName:  cfg.App.Name,
		Orchestrator: orch,
		Jobs:         store,
		Events:       bus,
		Checks:       checks,
		Metrics:      registry,
		StreamBuffer: cfg.Orchestrator.EventBuffer,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays zero so the event stream is not cut off.
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed",
			slog.Any("error", err),
		)
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if err := orch.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Orchestrator shutdown incomplete",
			slog.Any("error", err),
		)
	}
	cancel()

	appLogger.Info("Pipeline service shutdown complete")
	return nil
}

// brokerCheck reports the RabbitMQ connection state
type brokerCheck struct {
	client *rabbitmq.Client
}

func (b brokerCheck) HealthCheck(context.Context) error {
	if !b.client.IsConnected() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}

func orchestratorConfig(
	cfg *config.Config,
	logger *slog.Logger,
	definition *domain.Definition,
	capabilities orchestrator.Capabilities,
	store storage.Store,
	bus *events.Bus,
	registry prometheus.Registerer,
) *orchestrator.Config {
	oc := cfg.Orchestrator
	return &orchestrator.Config{
		Logger:               logger,
		Definition:           definition,
		Capabilities:         capabilities,
		Store:                store,
		Events:               bus,
		Registerer:           registry,
		MaxConcurrentJobs:    oc.MaxConcurrentJobs,
		SchedulingTick:       oc.SchedulingTick,
		MonitorInterval:      oc.MonitorInterval,
		ReportInterval:       oc.ReportInterval,
		ErrorRateWindow:      oc.ErrorRateWindow,
		HighErrorRate:        oc.HighErrorRate,
		MinErrorRateSamples:  oc.MinErrorRateSamples,
		BackoffDelays:        oc.BackoffDelays,
		DefaultMaxRetries:    oc.DefaultMaxRetries,
		DefaultPriority:      oc.DefaultPriority,
		EnforceStageTimeouts: oc.EnforceStageTimeouts,
		RecentJobsLimit:      oc.RecentJobsLimit,
		AlertLimit:           oc.AlertLimit,
		ApprovalFloor:        oc.ApprovalFloor,
		Estimation:           orchestrator.EstimationConfig(oc.Estimation),
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes a publish-only RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	return router.SetupRouter(deps)
}
