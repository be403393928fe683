package orchestrator

import (
	"context"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// retryPolicy grants stage retries. A retry needs budget left on both the
// stage and the job.
type retryPolicy struct {
	delays []time.Duration
}

func (p retryPolicy) grant(stage domain.StageDefinition, stageRetriesUsed, jobRetries, jobMaxRetries int) bool {
	return stageRetriesUsed < stage.Retries && jobRetries < jobMaxRetries
}

// delay returns the backoff before retry i (0-based); the last entry repeats.
func (p retryPolicy) delay(i int) time.Duration {
	if len(p.delays) == 0 {
		return 0
	}
	return p.delays[min(i, len(p.delays)-1)]
}

// sleep waits for d unless ctx ends or the job is cancelled first.
func sleep(ctx context.Context, job *domain.Job, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-job.Canceled():
		return domain.ErrJobCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}
