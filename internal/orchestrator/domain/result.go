package domain

import "time"

// Payload is the JSON-shaped data exchanged with capabilities.
type Payload map[string]any

// Confidence returns the numeric "confidence" field if present.
func (p Payload) Confidence() (float64, bool) {
	return p.Number("confidence")
}

// Number returns a numeric field, accepting the usual JSON-decoded types.
func (p Payload) Number(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a string field if present.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[key].(string)
	return s, ok
}

// Bool returns a boolean field if present.
func (p Payload) Bool(key string) (bool, bool) {
	if p == nil {
		return false, false
	}
	b, ok := p[key].(bool)
	return b, ok
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		return map[string]any(Payload(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// ServiceOutcome is the result-or-error record of one service invocation.
type ServiceOutcome struct {
	Service    string        `json:"service"`
	Status     string        `json:"status"`
	Result     Payload       `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the invocation returned a result.
func (o ServiceOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// StageResult holds every service outcome of a resolved stage.
type StageResult struct {
	Stage       string           `json:"stage"`
	Outcomes    []ServiceOutcome `json:"outcomes"`
	Attempts    int              `json:"attempts"`
	GatePassed  bool             `json:"gate_passed"`
	GateReason  string           `json:"gate_reason,omitempty"`
	Fallback    string           `json:"fallback,omitempty"`
	Elapsed     time.Duration    `json:"elapsed"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Outcome returns the outcome recorded for a service.
func (r StageResult) Outcome(service string) (ServiceOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Service == service {
			return o, true
		}
	}
	return ServiceOutcome{}, false
}

// Results returns successful service results keyed by service name.
func (r StageResult) Results() map[string]Payload {
	out := make(map[string]Payload, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out[o.Service] = o.Result
		}
	}
	return out
}

// Clone returns a deep copy of the stage result.
func (r StageResult) Clone() StageResult {
	outcomes := make([]ServiceOutcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		o.Result = o.Result.Clone()
		if o.Confidence != nil {
			c := *o.Confidence
			o.Confidence = &c
		}
		outcomes[i] = o
	}
	r.Outcomes = outcomes
	return r
}

// ProcessingSummary is attached to the final result.
type ProcessingSummary struct {
	StagesCompleted    int           `json:"stages_completed"`
	ServicesInvoked    int           `json:"services_invoked"`
	QualityGatesPassed int           `json:"quality_gates_passed"`
	DataCompleteness   float64       `json:"data_completeness"`
	ProcessingTime     time.Duration `json:"processing_time"`
}

// FinalResult is the aggregated output of a completed job.
type FinalResult struct {
	Recommendation    string            `json:"recommendation"`
	OverallConfidence float64           `json:"overall_confidence"`
	NextActions       []string          `json:"next_actions"`
	ProcessingSummary ProcessingSummary `json:"processing_summary"`
}

// ErrorDetail describes why a job failed.
type ErrorDetail struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}
