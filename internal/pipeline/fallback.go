package pipeline

import (
	"fmt"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// Default confidences attached to synthesized results.
const (
	StandardConfidence = 0.7
	DegradedConfidence = 0.3
)

// LookupFallback returns the strategy registered for a stage's failure key.
func LookupFallback(fallbacks map[string]domain.FallbackStrategy, stage string) (domain.FallbackStrategy, bool) {
	fb, ok := fallbacks[domain.FallbackKey(stage)]
	if ok && fb.Key == "" {
		fb.Key = domain.FallbackKey(stage)
	}
	return fb, ok
}

// ApplyFallback resolves a failed stage with the given strategy. It returns the
// substitute stage result and, for strategies that escalate, an alert template
// without id, job or timestamps. It never retries.
func ApplyFallback(strategy domain.FallbackStrategy, stage domain.StageDefinition, partial domain.StageResult, cause error, now time.Time) (domain.StageResult, *domain.Alert) {
	resolved := partial.Clone()
	resolved.Stage = stage.Name
	resolved.GatePassed = false
	resolved.Fallback = strategy.Action
	resolved.CompletedAt = now
	if cause != nil {
		resolved.GateReason = cause.Error()
	}

	switch strategy.Action {
	case domain.FallbackStandardProcessing:
		resolved.Outcomes = synthesize(stage, partial, strategy.Action, confidenceOr(strategy.Confidence, StandardConfidence), false, now)
		return resolved, nil

	case domain.FallbackDegradedResult:
		confidence := confidenceOr(strategy.Confidence, DegradedConfidence)
		resolved.Outcomes = synthesize(stage, partial, strategy.Action, confidence, true, now)
		return resolved, &domain.Alert{
			Type:     domain.AlertFallbackApplied,
			Severity: severityOr(strategy.Severity, domain.SeverityMedium),
			Stage:    stage.Name,
			Message:  messageOr(strategy.Message, fmt.Sprintf("Stage %s resolved with degraded result", stage.Name)),
			Data: domain.Payload{
				"strategy":   strategy.Action,
				"confidence": confidence,
				"cause":      resolved.GateReason,
			},
		}

	default:
		resolved.Outcomes = orderOutcomes(stage, resolved)
		return resolved, &domain.Alert{
			Type:     domain.AlertManualReview,
			Severity: severityOr(strategy.Severity, domain.SeverityHigh),
			Stage:    stage.Name,
			Message:  messageOr(strategy.Message, fmt.Sprintf("Stage %s requires manual review", stage.Name)),
			Data: domain.Payload{
				"strategy": domain.FallbackManualReview,
				"cause":    resolved.GateReason,
			},
		}
	}
}

// synthesize builds one successful outcome per declared service. Fields of a
// prior successful result are kept; confidence is replaced.
func synthesize(stage domain.StageDefinition, partial domain.StageResult, action string, confidence float64, degraded bool, now time.Time) []domain.ServiceOutcome {
	outcomes := make([]domain.ServiceOutcome, 0, len(stage.Services))
	for _, svc := range stage.Services {
		result := domain.Payload{}
		if prior, ok := partial.Outcome(svc); ok && prior.Succeeded() {
			result = prior.Result.Clone()
		}
		result["confidence"] = confidence
		result["fallback_applied"] = action
		if degraded {
			result["degraded"] = true
		}
		c := confidence
		outcomes = append(outcomes, domain.ServiceOutcome{
			Service:    svc,
			Status:     domain.OutcomeSuccess,
			Result:     result,
			Confidence: &c,
			StartedAt:  now,
		})
	}
	return outcomes
}

func orderOutcomes(stage domain.StageDefinition, source domain.StageResult) []domain.ServiceOutcome {
	outcomes := make([]domain.ServiceOutcome, 0, len(stage.Services))
	for _, svc := range stage.Services {
		if o, ok := source.Outcome(svc); ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

func confidenceOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func severityOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func messageOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
