package pipeline

import (
	"strings"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// DefaultApprovalFloor is the likelihood below which a case needs review.
const DefaultApprovalFloor = 0.3

var nextActions = map[string][]string{
	domain.RecommendationReject: {
		"resolve_compliance_violations",
		"review_policy_requirements",
		"consult_compliance_team",
	},
	domain.RecommendationReviewRequired: {
		"gather_additional_clinical_evidence",
		"request_peer_to_peer_review",
		"prepare_appeal_documentation",
	},
	domain.RecommendationCompleteData: {
		"complete_missing_fields",
		"verify_documentation",
		"resubmit_for_validation",
	},
	domain.RecommendationSubmit: {
		"submit_to_payer",
		"monitor_authorization_status",
	},
}

// Aggregator combines stage results into the final recommendation.
type Aggregator struct {
	ApprovalFloor float64
}

// NewAggregator creates an aggregator; a non-positive floor uses the default.
func NewAggregator(approvalFloor float64) Aggregator {
	if approvalFloor <= 0 {
		approvalFloor = DefaultApprovalFloor
	}
	return Aggregator{ApprovalFloor: approvalFloor}
}

// Aggregate computes the final result from the resolved stage results. It is
// deterministic and reads nothing but its arguments.
func (a Aggregator) Aggregate(results []domain.StageResult, processingTime time.Duration) domain.FinalResult {
	recommendation := a.recommend(results)
	return domain.FinalResult{
		Recommendation:    recommendation,
		OverallConfidence: OverallConfidence(results),
		NextActions:       append([]string(nil), nextActions[recommendation]...),
		ProcessingSummary: summarize(results, processingTime),
	}
}

func (a Aggregator) recommend(results []domain.StageResult) string {
	if compliance, ok := FindResult(results, domain.ServiceCompliance); ok {
		if risk, ok := compliance.String("risk_level"); ok && strings.EqualFold(risk, "critical") {
			return domain.RecommendationReject
		}
	}
	if predictionFellBack(results) {
		return domain.RecommendationReviewRequired
	}
	if prediction, ok := FindResult(results, domain.ServicePrediction); ok {
		likelihood, ok := prediction.Number("approval_likelihood")
		if !ok {
			likelihood, ok = prediction.Confidence()
		}
		if ok && likelihood < a.ApprovalFloor {
			return domain.RecommendationReviewRequired
		}
	}
	if validation, ok := FindResult(results, domain.ServiceValidation); ok {
		if ready, ok := validation.Bool("ready_for_submission"); ok && !ready {
			return domain.RecommendationCompleteData
		}
	}
	return domain.RecommendationSubmit
}

// predictionFellBack reports whether the latest stage that ran the prediction
// service was resolved by a fallback. Its confidence is synthesized and must
// not clear the case for submission.
func predictionFellBack(results []domain.StageResult) bool {
	for i := len(results) - 1; i >= 0; i-- {
		if _, ok := results[i].Outcome(domain.ServicePrediction); ok {
			return results[i].Fallback != ""
		}
	}
	return false
}

// OverallConfidence is the mean of every confidence field across all stage and
// service results. Results without a confidence are not counted.
func OverallConfidence(results []domain.StageResult) float64 {
	var sum float64
	var n int
	for _, sr := range results {
		for _, o := range sr.Outcomes {
			if !o.Succeeded() {
				continue
			}
			if c, ok := o.Result.Confidence(); ok {
				sum += c
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func summarize(results []domain.StageResult, processingTime time.Duration) domain.ProcessingSummary {
	summary := domain.ProcessingSummary{
		StagesCompleted: len(results),
		ProcessingTime:  processingTime,
	}
	for _, sr := range results {
		summary.ServicesInvoked += len(sr.Outcomes)
		if sr.GatePassed {
			summary.QualityGatesPassed++
		}
	}
	summary.DataCompleteness = completeness(results)
	return summary
}

// completeness reads the form mapping completion ratio, falling back to the
// validation service. Percentages above 1 are normalised.
func completeness(results []domain.StageResult) float64 {
	candidates := []struct{ service, field string }{
		{domain.ServiceFormMapping, "completion_percentage"},
		{domain.ServiceValidation, "completeness"},
	}
	for _, c := range candidates {
		res, ok := FindResult(results, c.service)
		if !ok {
			continue
		}
		if v, ok := res.Number(c.field); ok {
			if v > 1 {
				v /= 100
			}
			return v
		}
	}
	return 0
}
