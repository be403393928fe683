// Package storage is the write-behind persistence log of the orchestrator.
// Nothing written here is read back during job execution.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// Store receives job records, per-invocation stage logs, alerts and periodic
// performance snapshots.
type Store interface {
	SaveJob(ctx context.Context, rec domain.JobRecord) error
	LogStage(ctx context.Context, entry StageLog) error
	SaveAlert(ctx context.Context, alert domain.Alert) error
	SavePerformanceSnapshot(ctx context.Context, snap PerformanceSnapshot) error
	ListJobs(ctx context.Context, filter JobFilter) ([]JobRow, error)
}

// StageLog is one capability invocation.
type StageLog struct {
	JobID      string    `db:"job_id"`
	Stage      string    `db:"stage"`
	Service    string    `db:"service"`
	Attempt    int       `db:"attempt"`
	Status     string    `db:"status"`
	StartedAt  time.Time `db:"started_at"`
	DurationMS int64     `db:"duration_ms"`
	Confidence *float64  `db:"confidence"`
	Error      string    `db:"error_message"`
}

// PerformanceSnapshot is the periodic aggregate report.
type PerformanceSnapshot struct {
	TakenAt               time.Time          `json:"taken_at"`
	TotalProcessed        int64              `json:"total_processed"`
	SuccessCount          int64              `json:"success_count"`
	FailureCount          int64              `json:"failure_count"`
	AverageProcessingTime time.Duration      `json:"average_processing_time"`
	ActiveJobs            int                `json:"active_jobs"`
	QueuedJobs            int                `json:"queued_jobs"`
	StageErrorRates       map[string]float64 `json:"stage_error_rates"`
	ServiceErrorRates     map[string]float64 `json:"service_error_rates"`
}

// JobRow is the persisted summary of a job.
type JobRow struct {
	JobID          string     `db:"job_id"`
	SubmissionID   string     `db:"submission_id"`
	JobType        string     `db:"job_type"`
	Priority       int        `db:"priority"`
	Status         string     `db:"status"`
	CurrentStage   string     `db:"current_stage"`
	RetryCount     int        `db:"retry_count"`
	Recommendation string     `db:"recommendation"`
	Confidence     float64    `db:"overall_confidence"`
	ErrorMessage   string     `db:"error_message"`
	Record         string     `db:"record"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

// JobFilter selects a page of job history.
type JobFilter struct {
	SubmissionID string
	JobType      string
	Status       string
	PageSize     int
	Cursor       *JobCursor
}

// JobCursor is the keyset position of the last row of a page.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// NewJobRow flattens a job record for persistence.
func NewJobRow(rec domain.JobRecord) (JobRow, error) {
	record, err := json.Marshal(rec)
	if err != nil {
		return JobRow{}, fmt.Errorf("failed to marshal job record: %w", err)
	}
	row := JobRow{
		JobID:        rec.JobID,
		SubmissionID: rec.SubmissionID,
		JobType:      rec.JobType,
		Priority:     rec.Priority,
		Status:       string(rec.Status),
		CurrentStage: rec.CurrentStage,
		RetryCount:   rec.RetryCount,
		Record:       string(record),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		CompletedAt:  rec.ProcessingMetrics.CompletedAt,
	}
	if rec.FinalResult != nil {
		row.Recommendation = rec.FinalResult.Recommendation
		row.Confidence = rec.FinalResult.OverallConfidence
	}
	if rec.ErrorDetail != nil {
		row.ErrorMessage = rec.ErrorDetail.Message
	}
	return row, nil
}

// NewStageLog builds the log entry for one service outcome.
func NewStageLog(jobID, stage string, attempt int, o domain.ServiceOutcome) StageLog {
	return StageLog{
		JobID:      jobID,
		Stage:      stage,
		Service:    o.Service,
		Attempt:    attempt,
		Status:     o.Status,
		StartedAt:  o.StartedAt,
		DurationMS: o.Duration.Milliseconds(),
		Confidence: o.Confidence,
		Error:      o.Error,
	}
}
