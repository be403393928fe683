package dto

import (
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

type CreateJobRequest struct {
	SubmissionID   string         `json:"submission_id"`
	JobType        string         `json:"job_type"`
	Priority       *int           `json:"priority" binding:"omitempty,min=1,max=10"`
	MaxRetries     *int           `json:"max_retries" binding:"omitempty,min=0,max=10"`
	SubmissionData domain.Payload `json:"submission_data" binding:"required"`
}

type CreateJobResponse struct {
	JobID                   string  `json:"job_id"`
	Status                  string  `json:"status"`
	EstimatedProcessingTime float64 `json:"estimated_processing_time_seconds"`
	QueuePosition           int     `json:"queue_position"`
}

type ListJobsRequest struct {
	SubmissionID string `form:"submission_id"`
	JobType      string `form:"job_type"`
	Status       string `form:"status"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID             string   `json:"job_id"`
	SubmissionID      string   `json:"submission_id"`
	JobType           string   `json:"job_type"`
	Priority          int      `json:"priority"`
	Status            string   `json:"status"`
	CurrentStage      string   `json:"current_stage,omitempty"`
	RetryCount        int      `json:"retry_count"`
	Recommendation    string   `json:"recommendation,omitempty"`
	OverallConfidence *float64 `json:"overall_confidence,omitempty"`
	ErrorMessage      string   `json:"error_message,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	CompletedAt       string   `json:"completed_at,omitempty"`
}

// Progress is the share of stages already resolved.
type Progress struct {
	CompletedStages int     `json:"completed_stages"`
	TotalStages     int     `json:"total_stages"`
	Percent         float64 `json:"percent"`
}

type JobStatusResponse struct {
	JobID          string               `json:"job_id"`
	SubmissionID   string               `json:"submission_id"`
	JobType        string               `json:"job_type"`
	Priority       int                  `json:"priority"`
	Status         domain.JobStatus     `json:"status"`
	CurrentStage   string               `json:"current_stage,omitempty"`
	Progress       Progress             `json:"progress"`
	RetryCount     int                  `json:"retry_count"`
	MaxRetries     int                  `json:"max_retries"`
	StageResults   []domain.StageResult `json:"stage_results"`
	FinalResult    *domain.FinalResult  `json:"final_result,omitempty"`
	ErrorDetail    *domain.ErrorDetail  `json:"error_detail,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	StageDurations map[string]float64   `json:"stage_durations_seconds"`
}

// NewJobStatusResponse builds the status view of a job record.
func NewJobStatusResponse(rec domain.JobRecord) JobStatusResponse {
	total := len(rec.Stages)
	done := len(rec.StageResults)
	var percent float64
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}

	durations := make(map[string]float64, len(rec.ProcessingMetrics.StageDuration))
	for stage, d := range rec.ProcessingMetrics.StageDuration {
		durations[stage] = d.Seconds()
	}

	return JobStatusResponse{
		JobID:          rec.JobID,
		SubmissionID:   rec.SubmissionID,
		JobType:        rec.JobType,
		Priority:       rec.Priority,
		Status:         rec.Status,
		CurrentStage:   rec.CurrentStage,
		Progress:       Progress{CompletedStages: done, TotalStages: total, Percent: percent},
		RetryCount:     rec.RetryCount,
		MaxRetries:     rec.MaxRetries,
		StageResults:   rec.StageResults,
		FinalResult:    rec.FinalResult,
		ErrorDetail:    rec.ErrorDetail,
		StartedAt:      rec.ProcessingMetrics.StartedAt,
		CompletedAt:    rec.ProcessingMetrics.CompletedAt,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		StageDurations: durations,
	}
}
