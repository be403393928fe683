package domain

import "time"

// EventType identifies an orchestrator event.
type EventType string

// Events published to observers
const (
	EventJobCreated     EventType = "job.created"
	EventStageCompleted EventType = "stage.completed"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventAlertRaised    EventType = "alert.raised"
)

// Event is a typed notification about job progress.
type Event struct {
	Type      EventType     `json:"type"`
	JobID     string        `json:"job_id"`
	Stage     string        `json:"stage,omitempty"`
	Data      Payload       `json:"data,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
