package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

// setupConsumer starts consuming from the configured queue
func (a *Archiver) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := a.source.Consume(a.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	a.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", a.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (a *Archiver) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	a.logger.Info("Message dispatcher started",
		slog.String("worker_id", a.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				a.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			rec, err := decodeEvent(delivery)
			if err != nil {
				a.logger.Error("Rejecting event message",
					slog.String("routing_key", delivery.RoutingKey),
					slog.Bool("malformed", errors.Is(err, domain.ErrMalformedMessage)),
					slog.String("error", err.Error()),
				)
				// NACK without requeue - malformed messages go to the DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					a.logger.Error("Failed to NACK rejected message",
						slog.String("error", nackErr.Error()),
					)
				}
				a.metrics.messages.WithLabelValues(outcomeRejected).Inc()
				continue
			}

			msg := &domain.EventMessage{
				Record:   rec,
				Delivery: delivery,
			}

			select {
			case a.messagesChan <- msg:
				a.logger.Debug("Event dispatched to worker pool",
					slog.String("event_type", rec.EventType),
					slog.String("job_id", rec.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				a.logger.Info("Message dispatcher stopped while dispatching event")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					a.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
