package handler

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

// Orchestrator is the subset of the orchestrator the handlers drive
type Orchestrator interface {
	Submit(ctx context.Context, data domain.Payload, opts orchestrator.SubmitOptions) (orchestrator.SubmitAck, error)
	GetJobStatus(jobID string) (domain.JobRecord, error)
	Cancel(ctx context.Context, jobID string) error
	PipelineHealth() orchestrator.PipelineHealth
	ProcessingMetrics() orchestrator.ProcessingMetrics
	Alerts(status domain.AlertStatus) []domain.Alert
	AcknowledgeAlert(ctx context.Context, alertID string) (domain.Alert, error)
	ResolveAlert(ctx context.Context, alertID string) (domain.Alert, error)
}

// JobLister reads persisted job history
type JobLister interface {
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]storage.JobRow, error)
}

// EventSource streams orchestrator events
type EventSource interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Orchestrator Orchestrator
	Jobs         JobLister
	Events       EventSource
	Checks       map[string]HealthChecker
	Metrics      prometheus.Gatherer
	StreamBuffer int
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
	jobs         JobLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		jobs:         deps.Jobs,
	}
}

// PipelineHandler serves pipeline health and metrics
type PipelineHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
}

// NewPipelineHandler creates a new PipelineHandler instance
func NewPipelineHandler(deps *Dependencies) *PipelineHandler {
	return &PipelineHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}

// AlertHandler handles alert listing and lifecycle requests
type AlertHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
}

// NewAlertHandler creates a new AlertHandler instance
func NewAlertHandler(deps *Dependencies) *AlertHandler {
	return &AlertHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}

// EventHandler streams events to HTTP clients
type EventHandler struct {
	logger *slog.Logger
	events EventSource
	buffer int
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	buffer := deps.StreamBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &EventHandler{
		logger: deps.Logger,
		events: deps.Events,
		buffer: buffer,
	}
}
