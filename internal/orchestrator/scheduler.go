package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// Start launches the worker pool, the scheduling tick and the monitor.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	if o.stopped {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is stopped")
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	o.logger.Info("Starting orchestrator",
		slog.Int("max_concurrent_jobs", o.cfg.MaxConcurrentJobs),
		slog.Duration("scheduling_tick", o.cfg.SchedulingTick),
		slog.Duration("monitor_interval", o.cfg.MonitorInterval),
		slog.Bool("enforce_stage_timeouts", o.cfg.EnforceStageTimeouts),
	)

	for i := 0; i < o.cfg.MaxConcurrentJobs; i++ {
		o.wg.Add(1)
		go o.workerLoop(ctx, i)
	}

	o.wg.Add(2)
	go o.tickLoop(ctx)
	go o.monitorLoop(ctx)

	o.signal()
	return nil
}

// Stop stops admission and waits for running jobs to finish. Jobs still queued
// are failed with ErrShutdown. When ctx ends first, running jobs are cancelled.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	cancel := o.cancel
	var dropped []*task
	for {
		t, ok := o.queue.pop()
		if !ok {
			break
		}
		o.markFailed(t, "", domain.ErrShutdown)
		o.recent.add(t.job.Snapshot())
		dropped = append(dropped, t)
	}
	o.mu.Unlock()

	o.logger.Info("Stopping orchestrator...",
		slog.Int("dropped_jobs", len(dropped)),
	)
	close(o.stopChan)

	o.metrics.queuedJobs.Set(0)
	for _, t := range dropped {
		o.reportFailure(ctx, t, domain.ErrShutdown)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("Shutdown deadline reached, cancelling running jobs")
		err = fmt.Errorf("failed to drain running jobs: %w", ctx.Err())
	}
	if cancel != nil {
		cancel()
	}
	<-done

	o.logger.Info("Orchestrator stopped")
	return err
}

// signal wakes one idle worker without blocking.
func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerNum int) {
	defer o.wg.Done()

	o.logger.Debug("Worker goroutine started",
		slog.Int("worker_num", workerNum),
	)

	for {
		t, ok := o.admit(ctx)
		if !ok {
			o.logger.Debug("Worker goroutine stopping",
				slog.Int("worker_num", workerNum),
			)
			return
		}

		o.logger.Info("Job admitted",
			slog.String("job_id", t.job.JobID),
			slog.Int("worker_num", workerNum),
			slog.Duration("queue_wait", o.now().Sub(t.enqueuedAt)),
		)

		o.runJob(ctx, t)
		o.release(t)
	}
}

// admit blocks until a pending job can be moved into the active set. Only
// MaxConcurrentJobs workers call it, which bounds the active set.
func (o *Orchestrator) admit(ctx context.Context) (*task, bool) {
	for {
		o.mu.Lock()
		if o.stopped {
			o.mu.Unlock()
			return nil, false
		}
		if t, ok := o.queue.pop(); ok {
			o.active[t.job.JobID] = t
			queued, active := o.queue.Len(), len(o.active)
			o.mu.Unlock()

			o.metrics.queuedJobs.Set(float64(queued))
			o.metrics.activeJobs.Set(float64(active))
			if queued > 0 {
				o.signal()
			}
			return t, true
		}
		o.mu.Unlock()

		select {
		case <-o.stopChan:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-o.wake:
		}
	}
}

// release moves a finished job from the active set to the recent index.
func (o *Orchestrator) release(t *task) {
	rec := t.job.Snapshot()

	o.mu.Lock()
	delete(o.active, t.job.JobID)
	o.recent.add(rec)
	for key := range o.timedOut {
		if strings.HasPrefix(key, t.job.JobID+"|") {
			delete(o.timedOut, key)
		}
	}
	active := len(o.active)
	o.mu.Unlock()

	o.metrics.activeJobs.Set(float64(active))
}

func (o *Orchestrator) tickLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SchedulingTick)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.signal()
		}
	}
}
