package domain

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventRecord is one archived pipeline event
type EventRecord struct {
	EventType  string    `db:"event_type"`
	JobID      string    `db:"job_id"`
	Stage      string    `db:"stage"`
	RoutingKey string    `db:"routing_key"`
	Data       string    `db:"data"`
	DurationMS int64     `db:"duration_ms"`
	OccurredAt time.Time `db:"occurred_at"`
}

// EventMessage pairs a decoded record with the delivery it arrived on
type EventMessage struct {
	Record   EventRecord
	Delivery amqp.Delivery
}
