package domain

// JobStatus is the externally visible lifecycle state of a job.
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Outcome status of a single service invocation
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recommendation values produced by the aggregator
const (
	RecommendationSubmit         = "submit"
	RecommendationReject         = "reject"
	RecommendationReviewRequired = "review_required"
	RecommendationCompleteData   = "complete_data"
)

// Fallback strategy kinds
const (
	FallbackManualReview       = "manual_review"
	FallbackDegradedResult     = "degraded_result"
	FallbackStandardProcessing = "standard_processing"
)

// Alert severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert types raised by the orchestrator
const (
	AlertJobFailure      = "job_failure"
	AlertStageTimeout    = "stage_timeout"
	AlertFallbackApplied = "fallback_applied"
	AlertManualReview    = "manual_review_required"
	AlertHighErrorRate   = "high_error_rate"
)

// Well-known capability names used by input shaping and aggregation.
const (
	ServiceOCR         = "ocr_service"
	ServiceNLP         = "nlp_service"
	ServiceFormMapping = "form_mapping_service"
	ServiceCompliance  = "compliance_service"
	ServicePrediction  = "prediction_service"
	ServiceValidation  = "validation_service"
)

// DefaultJobType is used when a submission does not name one.
const DefaultJobType = "standard"
