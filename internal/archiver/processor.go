package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
	pipelinedomain "github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// decodeEvent parses a delivery body into a record. System alerts may carry
// no job_id; any other event must name a UUID job.
func decodeEvent(d amqp.Delivery) (domain.EventRecord, error) {
	var e pipelinedomain.Event
	if err := json.Unmarshal(d.Body, &e); err != nil {
		return domain.EventRecord{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	if e.Type == "" {
		return domain.EventRecord{}, fmt.Errorf("%w: missing event type", domain.ErrMalformedMessage)
	}

	if e.JobID != "" || e.Type != pipelinedomain.EventAlertRaised {
		if _, err := uuid.Parse(e.JobID); err != nil {
			return domain.EventRecord{}, fmt.Errorf("%w: %q", domain.ErrInvalidJobID, e.JobID)
		}
	}

	data := "{}"
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return domain.EventRecord{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
		}
		data = string(raw)
	}

	occurredAt := e.Timestamp
	if occurredAt.IsZero() {
		occurredAt = d.Timestamp
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return domain.EventRecord{
		EventType:  string(e.Type),
		JobID:      e.JobID,
		Stage:      e.Stage,
		RoutingKey: d.RoutingKey,
		Data:       data,
		DurationMS: e.Duration.Milliseconds(),
		OccurredAt: occurredAt.UTC(),
	}, nil
}

// archiveEvent writes one record. Storage failures are retryable.
func (a *Archiver) archiveEvent(ctx context.Context, rec domain.EventRecord) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.writeTimeout)
	defer cancel()

	start := time.Now()
	err := a.store.InsertEvent(writeCtx, rec)
	a.metrics.writeSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		a.logger.Error("Failed to archive event",
			slog.String("event_type", rec.EventType),
			slog.String("job_id", rec.JobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to archive event: %w", err))
	}

	return nil
}
