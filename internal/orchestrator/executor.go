package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

// executeStage runs every service of one stage attempt. Sequential stages
// stop at the first failure; parallel stages wait for all services and fail
// only when none succeeded.
func (o *Orchestrator) executeStage(ctx context.Context, job *domain.Job, stage domain.StageDefinition, attempt int, prior []domain.StageResult) (domain.StageResult, error) {
	if o.cfg.EnforceStageTimeouts && stage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	var submission domain.Payload
	job.Read(func(rec *domain.JobRecord) {
		submission = rec.SubmissionData
	})

	result := domain.StageResult{Stage: stage.Name, Attempts: attempt}
	var err error
	if stage.Parallel {
		result.Outcomes, err = o.runParallel(ctx, job, stage, attempt, submission, prior)
	} else {
		result.Outcomes, err = o.runSequential(ctx, job, stage, attempt, submission, prior)
	}
	return result, err
}

func (o *Orchestrator) runSequential(ctx context.Context, job *domain.Job, stage domain.StageDefinition, attempt int, submission domain.Payload, prior []domain.StageResult) ([]domain.ServiceOutcome, error) {
	outcomes := make([]domain.ServiceOutcome, 0, len(stage.Services))
	for _, svc := range stage.Services {
		if job.IsCanceled() {
			return outcomes, domain.ErrJobCanceled
		}
		input := o.inputs.Build(svc, submission, prior)
		outcome := o.invoke(ctx, job.JobID, stage.Name, svc, attempt, input)
		outcomes = append(outcomes, outcome)
		if !outcome.Succeeded() {
			return outcomes, &domain.ServiceInvocationError{Stage: stage.Name, Service: svc, Err: errors.New(outcome.Error)}
		}
	}
	return outcomes, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, job *domain.Job, stage domain.StageDefinition, attempt int, submission domain.Payload, prior []domain.StageResult) ([]domain.ServiceOutcome, error) {
	outcomes := make([]domain.ServiceOutcome, len(stage.Services))

	var g errgroup.Group
	for i, svc := range stage.Services {
		input := o.inputs.Build(svc, submission, prior)
		g.Go(func() error {
			outcomes[i] = o.invoke(ctx, job.JobID, stage.Name, svc, attempt, input)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, oc := range outcomes {
		if !oc.Succeeded() {
			failed = append(failed, oc.Service+": "+oc.Error)
		}
	}
	if len(failed) == len(outcomes) {
		return outcomes, &domain.ServiceInvocationError{
			Stage: stage.Name,
			Err:   fmt.Errorf("all %d services failed: %s", len(failed), strings.Join(failed, "; ")),
		}
	}
	return outcomes, nil
}

// invoke calls one capability and logs the outcome before returning it.
func (o *Orchestrator) invoke(ctx context.Context, jobID, stage, service string, attempt int, input domain.Payload) (outcome domain.ServiceOutcome) {
	start := o.now()
	outcome = domain.ServiceOutcome{Service: service, StartedAt: start}

	result, err := o.safeInvoke(ctx, service, input)
	outcome.Duration = o.now().Sub(start)
	if err != nil {
		outcome.Status = domain.OutcomeError
		outcome.Error = err.Error()
	} else {
		outcome.Status = domain.OutcomeSuccess
		outcome.Result = result
		if c, ok := result.Confidence(); ok {
			outcome.Confidence = &c
		}
	}

	o.metrics.invocation(outcome)
	o.svcRates.record(service, err != nil, start)

	if err := o.store.LogStage(context.WithoutCancel(ctx), storage.NewStageLog(jobID, stage, attempt, outcome)); err != nil {
		o.logger.Error("Failed to log stage invocation",
			slog.String("job_id", jobID),
			slog.String("stage", stage),
			slog.String("service", service),
			slog.Any("error", err),
		)
	}

	attrs := []any{
		slog.String("job_id", jobID),
		slog.String("stage", stage),
		slog.String("service", service),
		slog.Int("attempt", attempt),
		slog.String("status", outcome.Status),
		slog.Duration("duration", outcome.Duration),
	}
	if outcome.Confidence != nil {
		attrs = append(attrs, slog.Float64("confidence", *outcome.Confidence))
	}
	if err != nil {
		o.logger.Warn("Service invocation failed", append(attrs, slog.Any("error", err))...)
	} else {
		o.logger.Debug("Service invocation completed", attrs...)
	}
	return outcome
}

// safeInvoke turns a capability panic into an error.
func (o *Orchestrator) safeInvoke(ctx context.Context, service string, input domain.Payload) (result domain.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", service, r)
		}
	}()
	return o.caps.Invoke(ctx, service, input)
}
