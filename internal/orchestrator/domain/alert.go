package domain

import "time"

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert lifecycle
const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert is an operational notification created by the orchestrator.
type Alert struct {
	AlertID        string      `json:"alert_id"`
	Type           string      `json:"type"`
	Severity       string      `json:"severity"`
	JobID          string      `json:"job_id,omitempty"`
	Stage          string      `json:"stage,omitempty"`
	Service        string      `json:"service,omitempty"`
	Message        string      `json:"message"`
	Data           Payload     `json:"data,omitempty"`
	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}
