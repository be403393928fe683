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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/case-pipeline/internal/api/handler"
	"github.com/cuongbtq/case-pipeline/internal/archiver"
	"github.com/cuongbtq/case-pipeline/internal/archiver/storage"
	"github.com/cuongbtq/case-pipeline/internal/config"
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

	defaultConfigPath := os.Getenv("EVENT_ARCHIVER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/event-archiver.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateArchiverConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting event archiver",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	eventStore := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	if cfg.Persistence.EnsureSchema {
		if err := eventStore.EnsureSchema(context.Background()); err != nil {
			return err
		}
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       cfg.RabbitMQ.Exchange.Name,
		ExchangeType:       cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
		QueueName:          cfg.RabbitMQ.Queue.Name,
		QueueDurable:       cfg.RabbitMQ.Queue.Durable,
		QueueAutoDelete:    cfg.RabbitMQ.Queue.AutoDelete,
		QueueExclusive:     cfg.RabbitMQ.Queue.Exclusive,
		BindingKeys:        cfg.RabbitMQ.BindingKeys,
		PrefetchCount:      cfg.RabbitMQ.Consumer.PrefetchCount,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	archiverInstance := archiver.NewArchiver(&archiver.Config{
		Logger:       appLogger.Logger,
		Source:       rabbitClient,
		Store:        eventStore,
		Registerer:   registry,
		ConsumerTag:  cfg.RabbitMQ.Consumer.Tag,
		Concurrency:  cfg.Archiver.Concurrency,
		BufferSize:   cfg.Archiver.BufferSize,
		WriteTimeout: cfg.Archiver.WriteTimeout,
	})

	// Health and metrics endpoint
	var srv *http.Server
	if cfg.Server.Port > 0 {
		if cfg.App.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(gin.Recovery())
		r.GET("/health", handler.Liveness(&handler.Dependencies{
			Logger:      appLogger.Logger,
			ServiceName: cfg.App.Name,
			Checks: map[string]handler.HealthChecker{
				"postgres": dbClient,
				"rabbitmq": brokerCheck{client: rabbitClient},
			},
		}))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

		srv = &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     r,
			ReadTimeout: cfg.Server.ReadTimeout,
			IdleTimeout: cfg.Server.IdleTimeout,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Health server failed",
					slog.Any("error", err),
				)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- archiverInstance.Start(ctx)
	}()

	appLogger.Info("Event archiver started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Archiver error",
				slog.Any("error", err),
			)
			return err
		}
		appLogger.Warn("Archiver stopped consuming, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Archiver.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		archiverInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Archiver stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Archiver shutdown timeout exceeded, forcing exit")
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Health server forced to shutdown",
				slog.Any("error", err),
			)
		}
	}

	appLogger.Info("Event archiver shutdown complete")
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
