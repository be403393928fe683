package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.wg.Done()

	sweep := time.NewTicker(o.cfg.MonitorInterval)
	defer sweep.Stop()
	report := time.NewTicker(o.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		case <-sweep.C:
			o.checkTimeouts(ctx)
			o.checkErrorRates(ctx)
		case <-report.C:
			o.writePerformanceReport(ctx)
		}
	}
}

// checkTimeouts compares each active job's current stage attempt against the
// stage timeout. Breaches raise one alert per attempt; work is not stopped.
func (o *Orchestrator) checkTimeouts(ctx context.Context) []domain.TimeoutWarning {
	o.mu.Lock()
	tasks := make([]*task, 0, len(o.active))
	for _, t := range o.active {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	now := o.now()
	var warnings []domain.TimeoutWarning
	for _, t := range tasks {
		var (
			stageName string
			startedAt time.Time
			attempt   int
			budget    time.Duration
			running   bool
		)
		t.job.Read(func(rec *domain.JobRecord) {
			if rec.Status != domain.JobStatusProcessing || rec.CurrentStage == "" || rec.StageStartedAt == nil {
				return
			}
			for _, s := range rec.Stages {
				if s.Name == rec.CurrentStage {
					budget = s.Timeout
				}
			}
			stageName, startedAt, attempt, running = rec.CurrentStage, *rec.StageStartedAt, rec.StageAttempt, true
		})
		if !running || budget <= 0 {
			continue
		}

		elapsed := now.Sub(startedAt)
		if elapsed <= budget {
			continue
		}

		key := fmt.Sprintf("%s|%s|%d", t.job.JobID, stageName, attempt)
		o.mu.Lock()
		_, seen := o.timedOut[key]
		o.timedOut[key] = struct{}{}
		o.mu.Unlock()
		if seen {
			continue
		}

		warning := domain.TimeoutWarning{JobID: t.job.JobID, Stage: stageName, Elapsed: elapsed, Budget: budget}
		warnings = append(warnings, warning)
		o.raiseAlert(ctx, domain.Alert{
			Type:     domain.AlertStageTimeout,
			Severity: domain.SeverityHigh,
			JobID:    t.job.JobID,
			Stage:    stageName,
			Message:  warning.Error(),
			Data: domain.Payload{
				"elapsed_ms": elapsed.Milliseconds(),
				"timeout_ms": budget.Milliseconds(),
				"attempt":    attempt,
			},
		})
	}
	return warnings
}

// checkErrorRates refreshes the per-stage error rate gauges and raises an
// alert when a stage crosses the configured threshold.
func (o *Orchestrator) checkErrorRates(ctx context.Context) {
	rates := o.stageRates.rates(o.now())

	names := make([]string, 0, len(rates))
	for name := range rates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, stage := range names {
		r := rates[stage]
		o.metrics.stageErrorRate.WithLabelValues(stage).Set(r.Ratio)

		high := r.Samples >= o.cfg.MinErrorRateSamples && r.Ratio >= o.cfg.HighErrorRate

		o.mu.Lock()
		_, flagged := o.flagged[stage]
		if high {
			o.flagged[stage] = struct{}{}
		} else {
			delete(o.flagged, stage)
		}
		o.mu.Unlock()

		if high && !flagged {
			o.raiseAlert(ctx, domain.Alert{
				Type:     domain.AlertHighErrorRate,
				Severity: domain.SeverityMedium,
				Stage:    stage,
				Message:  fmt.Sprintf("Stage %s error rate %.0f%% over the last %s", stage, r.Ratio*100, o.cfg.ErrorRateWindow),
				Data: domain.Payload{
					"error_rate": r.Ratio,
					"samples":    r.Samples,
				},
			})
		}
	}
}

// writePerformanceReport persists the aggregate performance snapshot.
func (o *Orchestrator) writePerformanceReport(ctx context.Context) storage.PerformanceSnapshot {
	now := o.now()
	pm := o.ProcessingMetrics()
	snap := storage.PerformanceSnapshot{
		TakenAt:               now,
		TotalProcessed:        pm.TotalProcessed,
		SuccessCount:          pm.SuccessCount,
		FailureCount:          pm.FailureCount,
		AverageProcessingTime: pm.AverageProcessingTime,
		ActiveJobs:            pm.ActiveJobs,
		QueuedJobs:            pm.QueuedJobs,
		StageErrorRates:       ratios(o.stageRates.rates(now)),
		ServiceErrorRates:     ratios(o.svcRates.rates(now)),
	}

	if err := o.store.SavePerformanceSnapshot(ctx, snap); err != nil {
		o.logger.Error("Failed to save performance snapshot",
			slog.Any("error", err),
		)
	}

	o.logger.Info("Performance report",
		slog.Int64("total_processed", snap.TotalProcessed),
		slog.Int64("success_count", snap.SuccessCount),
		slog.Int64("failure_count", snap.FailureCount),
		slog.Duration("average_processing_time", snap.AverageProcessingTime),
		slog.Int("active_jobs", snap.ActiveJobs),
		slog.Int("queued_jobs", snap.QueuedJobs),
	)
	return snap
}

func ratios(rates map[string]rate) map[string]float64 {
	out := make(map[string]float64, len(rates))
	for k, r := range rates {
		out[k] = r.Ratio
	}
	return out
}
