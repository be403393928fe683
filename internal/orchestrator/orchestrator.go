// Package orchestrator runs case submissions through the staged pipeline:
// admission by priority under a concurrency cap, stage execution with
// quality gates, retries and fallbacks, and timeout monitoring.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
	"github.com/cuongbtq/case-pipeline/internal/pipeline"
)

// SubmitOptions are the optional parameters of a submission.
type SubmitOptions struct {
	SubmissionID string
	JobType      string
	Priority     *int
	MaxRetries   *int
}

// SubmitAck acknowledges a queued job.
type SubmitAck struct {
	JobID                   string        `json:"job_id"`
	Status                  string        `json:"status"`
	EstimatedProcessingTime time.Duration `json:"estimated_processing_time"`
	QueuePosition           int           `json:"queue_position"`
}

// Orchestrator owns the queue, the active set and every job record.
type Orchestrator struct {
	cfg        Config
	logger     *slog.Logger
	caps       Capabilities
	store      storage.Store
	events     Publisher
	metrics    *metrics
	inputs     *pipeline.InputBuilder
	aggregator pipeline.Aggregator
	retry      retryPolicy
	estimator  *estimator
	alerts     *alertBook
	stageRates *rateWindow
	svcRates   *rateWindow
	pipeline   atomic.Pointer[pipelineState]
	now        func() time.Time

	mu       sync.Mutex
	queue    *jobQueue
	seq      uint64
	active   map[string]*task
	recent   *recentJobs
	started  bool
	stopped  bool
	timedOut map[string]struct{}
	flagged  map[string]struct{}

	wake     chan struct{}
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an orchestrator. The pipeline definition is validated against
// the registered capabilities; any mismatch is a ConfigurationError.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Capabilities == nil {
		return nil, errors.New("capabilities are required")
	}
	c := *cfg
	c.applyDefaults()
	if c.Definition == nil {
		c.Definition = pipeline.DefaultDefinition()
	}

	o := &Orchestrator{
		cfg:        c,
		logger:     c.Logger,
		caps:       c.Capabilities,
		store:      c.Store,
		events:     c.Events,
		metrics:    newMetrics(c.Registerer),
		inputs:     pipeline.NewInputBuilder(),
		aggregator: pipeline.NewAggregator(c.ApprovalFloor),
		retry:      retryPolicy{delays: c.BackoffDelays},
		estimator:  newEstimator(c.Estimation),
		alerts:     newAlertBook(c.AlertLimit),
		stageRates: newRateWindow(c.ErrorRateWindow),
		svcRates:   newRateWindow(c.ErrorRateWindow),
		now:        func() time.Time { return time.Now().UTC() },
		queue:      newJobQueue(),
		active:     make(map[string]*task),
		recent:     newRecentJobs(c.RecentJobsLimit),
		timedOut:   make(map[string]struct{}),
		flagged:    make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
	if o.events == nil {
		o.events = noopPublisher{}
	}

	if err := o.UpdatePipeline(c.Definition); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdatePipeline validates and installs a new definition. Jobs created
// earlier keep the definition they were created with.
func (o *Orchestrator) UpdatePipeline(def *domain.Definition) error {
	if err := pipeline.Validate(def, o.caps.Names()); err != nil {
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
	o.pipeline.Store(&pipelineState{def: def, gates: pipeline.NewGateEvaluator(def.QualityGates)})

	o.logger.Info("Pipeline definition installed",
		slog.Int("stages", len(def.Stages)),
		slog.Int("quality_gates", len(def.QualityGates)),
		slog.Int("fallbacks", len(def.Fallbacks)),
	)
	return nil
}

// Definition returns the currently installed pipeline definition.
func (o *Orchestrator) Definition() *domain.Definition {
	return o.pipeline.Load().def
}

// Submit creates a job and queues it for admission.
func (o *Orchestrator) Submit(ctx context.Context, data domain.Payload, opts SubmitOptions) (SubmitAck, error) {
	jobType := opts.JobType
	if jobType == "" {
		jobType = domain.DefaultJobType
	}
	priority := o.cfg.DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	maxRetries := *o.cfg.DefaultMaxRetries
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return SubmitAck{}, fmt.Errorf("max retries must not be negative")
		}
		maxRetries = *opts.MaxRetries
	}

	jobID := newID()
	submissionID := opts.SubmissionID
	if submissionID == "" {
		if s, ok := data.String("submission_id"); ok && s != "" {
			submissionID = s
		} else {
			submissionID = jobID
		}
	}

	ps := o.pipeline.Load()
	now := o.now()
	job := domain.NewJob(jobID, submissionID, jobType, priority, maxRetries, data.Clone(), ps.def.CloneStages(), now)
	estimate := o.estimator.estimate(jobType, data)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return SubmitAck{}, domain.ErrOrchestratorStopped
	}
	o.seq++
	o.queue.push(&task{job: job, pipeline: ps, seq: o.seq, enqueuedAt: now})
	position := o.queue.position(jobID)
	queued := o.queue.Len()
	o.mu.Unlock()

	o.metrics.jobsSubmitted.WithLabelValues(jobType).Inc()
	o.metrics.queuedJobs.Set(float64(queued))
	o.signal()

	o.persistJob(ctx, job.Snapshot())
	o.events.Publish(ctx, domain.Event{
		Type:      domain.EventJobCreated,
		JobID:     jobID,
		Timestamp: now,
		Data: domain.Payload{
			"submission_id":  submissionID,
			"job_type":       jobType,
			"priority":       priority,
			"queue_position": position,
		},
	})

	o.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("submission_id", submissionID),
		slog.String("job_type", jobType),
		slog.Int("priority", priority),
		slog.Int("queue_position", position),
		slog.Duration("estimated_processing_time", estimate),
	)

	return SubmitAck{
		JobID:                   jobID,
		Status:                  "queued",
		EstimatedProcessingTime: estimate,
		QueuePosition:           position,
	}, nil
}

// GetJobStatus returns a copy of the job record.
func (o *Orchestrator) GetJobStatus(jobID string) (domain.JobRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.active[jobID]; ok {
		return t.job.Snapshot(), nil
	}
	if t, ok := o.queue.byID[jobID]; ok {
		return t.job.Snapshot(), nil
	}
	if rec, ok := o.recent.get(jobID); ok {
		return rec.Clone(), nil
	}
	return domain.JobRecord{}, domain.ErrJobNotFound
}

// Cancel stops a job. A pending job is removed from the queue and failed at
// once; a running job is signalled and fails at its next checkpoint.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	if t, ok := o.queue.remove(jobID); ok {
		o.metrics.queuedJobs.Set(float64(o.queue.Len()))
		t.job.Cancel()
		o.markFailed(t, "", domain.ErrJobCanceled)
		o.recent.add(t.job.Snapshot())
		o.mu.Unlock()

		o.reportFailure(ctx, t, domain.ErrJobCanceled)
		return nil
	}
	if t, ok := o.active[jobID]; ok {
		o.mu.Unlock()
		t.job.Cancel()
		o.logger.Info("Cancellation requested",
			slog.String("job_id", jobID),
		)
		return nil
	}
	_, terminal := o.recent.get(jobID)
	o.mu.Unlock()

	if terminal {
		return domain.ErrJobTerminal
	}
	return domain.ErrJobNotFound
}

// ProcessingMetrics returns throughput counters and current queue sizes.
func (o *Orchestrator) ProcessingMetrics() ProcessingMetrics {
	o.mu.Lock()
	active, queued := len(o.active), o.queue.Len()
	o.mu.Unlock()
	return o.metrics.snapshot(active, queued)
}

func (o *Orchestrator) persistJob(ctx context.Context, rec domain.JobRecord) {
	if err := o.store.SaveJob(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("Failed to persist job",
			slog.String("job_id", rec.JobID),
			slog.String("status", string(rec.Status)),
			slog.Any("error", err),
		)
	}
}

// newID returns a time-ordered unique id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
