package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

// Capabilities invokes named external services.
type Capabilities interface {
	Invoke(ctx context.Context, name string, input domain.Payload) (domain.Payload, error)
	Names() []string
}

// CircuitStates is optionally implemented by Capabilities to report breaker state.
type CircuitStates interface {
	States() map[string]string
}

// Publisher receives orchestrator events.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// Config holds orchestrator configuration and collaborators
type Config struct {
	Logger       *slog.Logger
	Definition   *domain.Definition
	Capabilities Capabilities
	Store        storage.Store
	Events       Publisher
	Registerer   prometheus.Registerer

	MaxConcurrentJobs    int
	SchedulingTick       time.Duration
	MonitorInterval      time.Duration
	ReportInterval       time.Duration
	ErrorRateWindow      time.Duration
	HighErrorRate        float64
	MinErrorRateSamples  int
	BackoffDelays        []time.Duration
	DefaultMaxRetries    *int
	DefaultPriority      int
	EnforceStageTimeouts bool
	RecentJobsLimit      int
	AlertLimit           int
	ApprovalFloor        float64
	Estimation           EstimationConfig
}

// Default values
const (
	DefaultMaxConcurrentJobs = 5
	DefaultSchedulingTick    = time.Second
	DefaultMonitorInterval   = 5 * time.Second
	DefaultReportInterval    = time.Hour
	DefaultErrorRateWindow   = 5 * time.Minute
	DefaultHighErrorRate     = 0.3
	DefaultMaxRetries        = 3
	DefaultPriority          = 5
	DefaultRecentJobsLimit   = 1000
	DefaultAlertLimit        = 1000
)

// DefaultBackoffDelays is the progressive delay table between stage retries.
var DefaultBackoffDelays = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Store == nil {
		c.Store = storage.NewMemoryStore()
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.SchedulingTick <= 0 {
		c.SchedulingTick = DefaultSchedulingTick
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.ErrorRateWindow <= 0 {
		c.ErrorRateWindow = DefaultErrorRateWindow
	}
	if c.HighErrorRate <= 0 {
		c.HighErrorRate = DefaultHighErrorRate
	}
	if c.MinErrorRateSamples <= 0 {
		c.MinErrorRateSamples = 5
	}
	if len(c.BackoffDelays) == 0 {
		c.BackoffDelays = DefaultBackoffDelays
	}
	if c.DefaultMaxRetries == nil || *c.DefaultMaxRetries < 0 {
		n := DefaultMaxRetries
		c.DefaultMaxRetries = &n
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = DefaultPriority
	}
	if c.RecentJobsLimit <= 0 {
		c.RecentJobsLimit = DefaultRecentJobsLimit
	}
	if c.AlertLimit <= 0 {
		c.AlertLimit = DefaultAlertLimit
	}
	c.Estimation.applyDefaults()
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) {}
