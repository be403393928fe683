package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/pipeline"
)

// runJob executes every stage of a job in order and records the outcome.
// It is the only writer of the job record while the job is active.
func (o *Orchestrator) runJob(ctx context.Context, t *task) {
	job := t.job

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = context.WithoutCancel(ctx)
	go func() {
		select {
		case <-job.Canceled():
			cancel()
		case <-jobCtx.Done():
		}
	}()

	start := o.now()
	var stages []domain.StageDefinition
	job.Mutate(func(rec *domain.JobRecord) {
		rec.Status = domain.JobStatusProcessing
		rec.ProcessingMetrics.StartedAt = &start
		stages = rec.Stages
	})
	o.persistJob(ctx, job.Snapshot())

	o.logger.Info("Job processing started",
		slog.String("job_id", job.JobID),
		slog.Int("stages", len(stages)),
	)

	results := make([]domain.StageResult, 0, len(stages))
	for _, stage := range stages {
		if job.IsCanceled() {
			o.failJob(ctx, t, stage.Name, domain.ErrJobCanceled)
			return
		}

		res, err := o.resolveStage(jobCtx, t, stage, results)
		if err != nil {
			o.failJob(ctx, t, stage.Name, err)
			return
		}

		results = append(results, res)
		stored := res.Clone()
		job.Mutate(func(rec *domain.JobRecord) {
			rec.StageResults = append(rec.StageResults, stored)
			rec.ProcessingMetrics.StageDuration[stage.Name] = res.Elapsed
			rec.CurrentStage = ""
			rec.StageStartedAt = nil
		})
		o.metrics.stageDuration.WithLabelValues(stage.Name).Observe(res.Elapsed.Seconds())

		o.events.Publish(ctx, domain.Event{
			Type:      domain.EventStageCompleted,
			JobID:     job.JobID,
			Stage:     stage.Name,
			Duration:  res.Elapsed,
			Timestamp: res.CompletedAt,
			Data: domain.Payload{
				"attempts":    res.Attempts,
				"gate_passed": res.GatePassed,
				"fallback":    res.Fallback,
				"services":    len(res.Outcomes),
			},
		})

		o.logger.Info("Stage completed",
			slog.String("job_id", job.JobID),
			slog.String("stage", stage.Name),
			slog.Int("attempts", res.Attempts),
			slog.Bool("gate_passed", res.GatePassed),
			slog.String("fallback", res.Fallback),
			slog.Duration("elapsed", res.Elapsed),
		)
	}

	o.completeJob(ctx, t, results, start)
}

// resolveStage runs a stage until it passes its gate, is resolved by a
// fallback, or fails the job.
func (o *Orchestrator) resolveStage(ctx context.Context, t *task, stage domain.StageDefinition, prior []domain.StageResult) (domain.StageResult, error) {
	job := t.job
	stageStart := o.now()
	retriesUsed := 0

	for attempt := 1; ; attempt++ {
		attemptStart := o.now()
		job.Mutate(func(rec *domain.JobRecord) {
			rec.CurrentStage = stage.Name
			rec.StageStartedAt = &attemptStart
			rec.StageAttempt = attempt
		})

		res, err := o.executeStage(ctx, job, stage, attempt, prior)
		if err == nil {
			gate := t.pipeline.gates.Evaluate(stage.Name, res)
			res.GatePassed = gate.Passed
			res.GateReason = gate.Reason
			if !gate.Passed {
				err = &domain.QualityGateError{Stage: stage.Name, Reason: gate.Reason}
			}
		}
		o.stageRates.record(stage.Name, err != nil, attemptStart)

		if err == nil {
			res.CompletedAt = o.now()
			res.Elapsed = res.CompletedAt.Sub(stageStart)
			return res, nil
		}

		if job.IsCanceled() || errors.Is(err, domain.ErrJobCanceled) {
			return res, domain.ErrJobCanceled
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("stage %s interrupted: %w", stage.Name, ctx.Err())
		}

		var retryCount, maxRetries int
		job.Read(func(rec *domain.JobRecord) {
			retryCount, maxRetries = rec.RetryCount, rec.MaxRetries
		})

		if o.retry.grant(stage, retriesUsed, retryCount, maxRetries) {
			delay := o.retry.delay(retriesUsed)
			retriesUsed++
			job.Mutate(func(rec *domain.JobRecord) {
				rec.RetryCount++
			})
			o.metrics.retries.WithLabelValues(stage.Name).Inc()

			o.logger.Warn("Stage failed, retrying",
				slog.String("job_id", job.JobID),
				slog.String("stage", stage.Name),
				slog.Int("attempt", attempt),
				slog.Int("retry", retriesUsed),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			if serr := sleep(ctx, job, delay); serr != nil {
				if errors.Is(serr, domain.ErrJobCanceled) || job.IsCanceled() {
					return res, domain.ErrJobCanceled
				}
				return res, fmt.Errorf("stage %s interrupted: %w", stage.Name, serr)
			}
			continue
		}

		strategy, ok := pipeline.LookupFallback(t.pipeline.def.Fallbacks, stage.Name)
		if !ok {
			return res, err
		}

		resolved, alert := pipeline.ApplyFallback(strategy, stage, res, err, o.now())
		resolved.Attempts = attempt
		resolved.Elapsed = resolved.CompletedAt.Sub(stageStart)
		o.metrics.fallbacks.WithLabelValues(stage.Name, strategy.Action).Inc()

		o.logger.Warn("Fallback applied",
			slog.String("job_id", job.JobID),
			slog.String("stage", stage.Name),
			slog.String("strategy", strategy.Action),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)

		if alert != nil {
			alert.JobID = job.JobID
			o.raiseAlert(context.WithoutCancel(ctx), *alert)
		}
		return resolved, nil
	}
}

// completeJob aggregates the stage results and marks the job completed.
func (o *Orchestrator) completeJob(ctx context.Context, t *task, results []domain.StageResult, start time.Time) {
	job := t.job
	now := o.now()
	elapsed := now.Sub(start)
	final := o.aggregator.Aggregate(results, elapsed)

	job.Mutate(func(rec *domain.JobRecord) {
		rec.Status = domain.JobStatusCompleted
		rec.FinalResult = &final
		rec.ProcessingMetrics.CompletedAt = &now
		rec.CurrentStage = ""
		rec.StageStartedAt = nil
	})
	o.persistJob(ctx, job.Snapshot())

	o.metrics.jobFinished(domain.JobStatusCompleted, elapsed)
	o.estimator.record(elapsed)

	o.events.Publish(ctx, domain.Event{
		Type:      domain.EventJobCompleted,
		JobID:     job.JobID,
		Duration:  elapsed,
		Timestamp: now,
		Data: domain.Payload{
			"recommendation":     final.Recommendation,
			"overall_confidence": final.OverallConfidence,
			"next_actions":       final.NextActions,
		},
	})

	o.logger.Info("Job completed",
		slog.String("job_id", job.JobID),
		slog.String("recommendation", final.Recommendation),
		slog.Float64("overall_confidence", final.OverallConfidence),
		slog.Duration("processing_time", elapsed),
	)
}

// failJob marks the job failed and emits exactly one alert, one terminal
// write and one job.failed event. Completed stage results are kept.
func (o *Orchestrator) failJob(ctx context.Context, t *task, stage string, cause error) {
	o.markFailed(t, stage, cause)
	o.reportFailure(ctx, t, cause)
}

func (o *Orchestrator) markFailed(t *task, stage string, cause error) {
	now := o.now()
	t.job.Mutate(func(rec *domain.JobRecord) {
		rec.Status = domain.JobStatusFailed
		rec.ErrorDetail = &domain.ErrorDetail{
			Stage:      stage,
			Message:    cause.Error(),
			RetryCount: rec.RetryCount,
			FailedAt:   now,
		}
		rec.ProcessingMetrics.CompletedAt = &now
		rec.CurrentStage = ""
		rec.StageStartedAt = nil
	})
}

func (o *Orchestrator) reportFailure(ctx context.Context, t *task, cause error) {
	rec := t.job.Snapshot()
	o.persistJob(ctx, rec)

	var elapsed time.Duration
	if rec.ProcessingMetrics.StartedAt != nil && rec.ProcessingMetrics.CompletedAt != nil {
		elapsed = rec.ProcessingMetrics.CompletedAt.Sub(*rec.ProcessingMetrics.StartedAt)
	}
	o.metrics.jobFinished(domain.JobStatusFailed, elapsed)

	severity := domain.SeverityHigh
	switch {
	case errors.Is(cause, domain.ErrJobCanceled):
		severity = domain.SeverityLow
	case errors.Is(cause, domain.ErrShutdown):
		severity = domain.SeverityMedium
	}
	stage := rec.ErrorDetail.Stage
	o.raiseAlert(ctx, domain.Alert{
		Type:     domain.AlertJobFailure,
		Severity: severity,
		JobID:    rec.JobID,
		Stage:    stage,
		Message:  fmt.Sprintf("Job %s failed: %s", rec.JobID, rec.ErrorDetail.Message),
		Data: domain.Payload{
			"retry_count": rec.RetryCount,
			"error":       rec.ErrorDetail.Message,
		},
	})

	o.events.Publish(ctx, domain.Event{
		Type:      domain.EventJobFailed,
		JobID:     rec.JobID,
		Stage:     stage,
		Duration:  elapsed,
		Timestamp: rec.ErrorDetail.FailedAt,
		Data: domain.Payload{
			"error":       rec.ErrorDetail.Message,
			"retry_count": rec.RetryCount,
		},
	})

	o.logger.Error("Job failed",
		slog.String("job_id", rec.JobID),
		slog.String("stage", stage),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("error", rec.ErrorDetail.Message),
	)
}
