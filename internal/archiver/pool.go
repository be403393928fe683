package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (a *Archiver) spawnWorkerPool(ctx context.Context) {
	a.logger.Info("Spawning worker pool",
		slog.Int("concurrency", a.concurrency),
		slog.String("worker_id", a.workerID),
	)

	for i := 0; i < a.concurrency; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx, i)
	}
}

// workerLoop archives events until stopped
func (a *Archiver) workerLoop(ctx context.Context, workerNum int) {
	defer a.wg.Done()

	workerName := fmt.Sprintf("%s-%d", a.workerID, workerNum)
	a.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-a.stopChan:
			a.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			a.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-a.messagesChan:
			a.handle(ctx, workerName, msg)
		}
	}
}

func (a *Archiver) handle(ctx context.Context, workerName string, msg *domain.EventMessage) {
	err := a.archiveEvent(ctx, msg.Record)

	if err != nil {
		requeue := shouldRequeue(err)
		if nackErr := msg.Delivery.Nack(false, requeue); nackErr != nil {
			a.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.Record.JobID),
				slog.String("error", nackErr.Error()),
			)
			return
		}
		outcome := outcomeRejected
		if requeue {
			outcome = outcomeRequeued
		}
		a.metrics.messages.WithLabelValues(outcome).Inc()
		a.logger.Info("Message NACKed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.Record.JobID),
			slog.Bool("requeue", requeue),
		)
		return
	}

	if ackErr := msg.Delivery.Ack(false); ackErr != nil {
		a.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.Record.JobID),
			slog.String("error", ackErr.Error()),
		)
		return
	}
	a.metrics.messages.WithLabelValues(outcomeArchived).Inc()
}

// shouldRequeue requeues transient failures only
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrMalformedMessage) || errors.Is(err, domain.ErrInvalidJobID) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
