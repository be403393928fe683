package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

// DeliverySource yields broker deliveries with manual acknowledgement
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EventStore persists archived events
type EventStore interface {
	InsertEvent(ctx context.Context, rec domain.EventRecord) error
}

// Config holds archiver configuration
type Config struct {
	Logger       *slog.Logger
	Source       DeliverySource
	Store        EventStore
	Registerer   prometheus.Registerer
	ConsumerTag  string
	Concurrency  int
	BufferSize   int
	WriteTimeout time.Duration
}

// Archiver consumes pipeline events and writes them to storage
type Archiver struct {
	logger       *slog.Logger
	source       DeliverySource
	store        EventStore
	metrics      *metrics
	workerID     string
	concurrency  int
	writeTimeout time.Duration
	messagesChan chan *domain.EventMessage
	wg           sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewArchiver creates a new archiver instance
func NewArchiver(cfg *Config) *Archiver {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = concurrency
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	workerID := cfg.ConsumerTag
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("event-archiver-%s-%d", hostname, os.Getpid())
	}

	return &Archiver{
		logger:       cfg.Logger,
		source:       cfg.Source,
		store:        cfg.Store,
		metrics:      newMetrics(cfg.Registerer),
		workerID:     workerID,
		concurrency:  concurrency,
		writeTimeout: writeTimeout,
		messagesChan: make(chan *domain.EventMessage, bufferSize),
		stopChan:     make(chan struct{}),
	}
}

// Start subscribes to the queue and blocks dispatching deliveries until ctx
// is done or the delivery channel closes
func (a *Archiver) Start(ctx context.Context) error {
	a.logger.Info("Starting event archiver",
		slog.String("worker_id", a.workerID),
		slog.Int("concurrency", a.concurrency),
		slog.Duration("write_timeout", a.writeTimeout),
	)

	deliveries, err := a.setupConsumer()
	if err != nil {
		return err
	}

	a.spawnWorkerPool(ctx)
	a.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop signals the worker pool and waits for in-flight writes to finish
func (a *Archiver) Stop() {
	a.logger.Info("Stopping event archiver...")
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
	a.wg.Wait()
	a.logger.Info("Event archiver stopped")
}
