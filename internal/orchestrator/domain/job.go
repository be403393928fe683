package domain

import (
	"sync"
	"time"
)

// ProcessingMetrics records job timing.
type ProcessingMetrics struct {
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	StageDuration map[string]time.Duration `json:"stage_duration"`
}

// JobRecord is the observable state of a job. Status queries return copies.
type JobRecord struct {
	JobID             string            `json:"job_id"`
	SubmissionID      string            `json:"submission_id"`
	JobType           string            `json:"job_type"`
	Priority          int               `json:"priority"`
	Status            JobStatus         `json:"status"`
	Stages            []StageDefinition `json:"stages"`
	CurrentStage      string            `json:"current_stage,omitempty"`
	StageStartedAt    *time.Time        `json:"stage_started_at,omitempty"`
	StageAttempt      int               `json:"stage_attempt"`
	StageResults      []StageResult     `json:"stage_results"`
	RetryCount        int               `json:"retry_count"`
	MaxRetries        int               `json:"max_retries"`
	SubmissionData    Payload           `json:"submission_data"`
	ProcessingMetrics ProcessingMetrics `json:"processing_metrics"`
	FinalResult       *FinalResult      `json:"final_result,omitempty"`
	ErrorDetail       *ErrorDetail      `json:"error_detail,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StageResult returns the resolved result for a stage.
func (r *JobRecord) StageResult(stage string) (StageResult, bool) {
	for _, sr := range r.StageResults {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}

// Clone returns a deep copy of the record.
func (r *JobRecord) Clone() JobRecord {
	out := *r
	out.Stages = make([]StageDefinition, len(r.Stages))
	for i, s := range r.Stages {
		s.Services = append([]string(nil), s.Services...)
		out.Stages[i] = s
	}
	out.StageResults = make([]StageResult, len(r.StageResults))
	for i, sr := range r.StageResults {
		out.StageResults[i] = sr.Clone()
	}
	out.SubmissionData = r.SubmissionData.Clone()
	out.ProcessingMetrics.StageDuration = make(map[string]time.Duration, len(r.ProcessingMetrics.StageDuration))
	for k, v := range r.ProcessingMetrics.StageDuration {
		out.ProcessingMetrics.StageDuration[k] = v
	}
	out.ProcessingMetrics.StartedAt = copyTime(r.ProcessingMetrics.StartedAt)
	out.ProcessingMetrics.CompletedAt = copyTime(r.ProcessingMetrics.CompletedAt)
	out.StageStartedAt = copyTime(r.StageStartedAt)
	if r.FinalResult != nil {
		fr := *r.FinalResult
		fr.NextActions = append([]string(nil), r.FinalResult.NextActions...)
		out.FinalResult = &fr
	}
	if r.ErrorDetail != nil {
		ed := *r.ErrorDetail
		out.ErrorDetail = &ed
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Job wraps a JobRecord with the synchronization needed for the single-writer
// rule: only the worker executing the job calls Mutate; everyone else reads
// through Snapshot.
type Job struct {
	JobRecord

	mu         sync.RWMutex
	cancelOnce sync.Once
	canceled   chan struct{}
}

// NewJob creates a pending job from a submission.
func NewJob(id, submissionID, jobType string, priority, maxRetries int, data Payload, stages []StageDefinition, now time.Time) *Job {
	return &Job{
		JobRecord: JobRecord{
			JobID:          id,
			SubmissionID:   submissionID,
			JobType:        jobType,
			Priority:       priority,
			Status:         JobStatusPending,
			Stages:         stages,
			StageResults:   []StageResult{},
			MaxRetries:     maxRetries,
			SubmissionData: data,
			ProcessingMetrics: ProcessingMetrics{
				StageDuration: make(map[string]time.Duration),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		canceled: make(chan struct{}),
	}
}

// Mutate applies fn to the record under the write lock.
func (j *Job) Mutate(fn func(rec *JobRecord)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.JobRecord)
	j.UpdatedAt = time.Now().UTC()
}

// Read calls fn with the record under the read lock. fn must not retain rec
// or anything reachable from it.
func (j *Job) Read(fn func(rec *JobRecord)) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	fn(&j.JobRecord)
}

// Snapshot returns a deep copy of the current record.
func (j *Job) Snapshot() JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.JobRecord.Clone()
}

// Cancel signals cooperative cancellation. Safe to call more than once.
func (j *Job) Cancel() {
	j.cancelOnce.Do(func() { close(j.canceled) })
}

// Canceled returns a channel closed once Cancel has been called.
func (j *Job) Canceled() <-chan struct{} {
	return j.canceled
}

// IsCanceled reports whether Cancel has been called.
func (j *Job) IsCanceled() bool {
	select {
	case <-j.canceled:
		return true
	default:
		return false
	}
}
