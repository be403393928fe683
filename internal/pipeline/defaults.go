package pipeline

import (
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// DefaultDefinition returns the standard five stage prior authorization pipeline.
func DefaultDefinition() *domain.Definition {
	return &domain.Definition{
		Stages: []domain.StageDefinition{
			{Name: "document_processing", Services: []string{domain.ServiceOCR, domain.ServiceNLP}, Parallel: true, Timeout: 60 * time.Second, Retries: 2},
			{Name: "form_mapping", Services: []string{domain.ServiceFormMapping}, Timeout: 30 * time.Second, Retries: 2},
			{Name: "compliance_check", Services: []string{domain.ServiceCompliance}, Timeout: 30 * time.Second, Retries: 1},
			{Name: "approval_prediction", Services: []string{domain.ServicePrediction}, Timeout: 20 * time.Second, Retries: 1},
			{Name: "final_validation", Services: []string{domain.ServiceValidation}, Timeout: 15 * time.Second, Retries: 1},
		},
		QualityGates: map[string]domain.QualityGate{
			"document_processing": {
				Stage:            "document_processing",
				RequiredServices: []string{domain.ServiceOCR},
				Rules: []domain.GateRule{
					{Name: "min_ocr_confidence", Service: domain.ServiceOCR, Field: "confidence", Rule: domain.RuleMin, Value: 0.7},
					{Name: "min_entities_extracted", Service: domain.ServiceNLP, Field: "entities", Rule: domain.RuleMinCount, Value: 1},
				},
			},
			"form_mapping": {
				Stage: "form_mapping",
				Rules: []domain.GateRule{
					{Name: "min_completion_ratio", Service: domain.ServiceFormMapping, Field: "completion_percentage", Rule: domain.RuleMin, Value: 0.8},
					{Name: "min_mapping_confidence", Service: domain.ServiceFormMapping, Field: "confidence", Rule: domain.RuleMin, Value: 0.75},
				},
			},
			"compliance_check": {
				Stage: "compliance_check",
				Rules: []domain.GateRule{
					{Name: "risk_level_present", Service: domain.ServiceCompliance, Field: "risk_level", Rule: domain.RuleRequired},
					{Name: "min_compliance_confidence", Service: domain.ServiceCompliance, Field: "confidence", Rule: domain.RuleMin, Value: 0.6},
				},
			},
			"approval_prediction": {
				Stage: "approval_prediction",
				Rules: []domain.GateRule{
					{Name: "min_prediction_confidence", Service: domain.ServicePrediction, Field: "confidence", Rule: domain.RuleMin, Value: 0.5},
				},
			},
		},
		Fallbacks: map[string]domain.FallbackStrategy{
			"document_processing_failure": {Key: "document_processing_failure", Action: domain.FallbackManualReview, Severity: domain.SeverityHigh},
			"form_mapping_failure":        {Key: "form_mapping_failure", Action: domain.FallbackStandardProcessing, Confidence: StandardConfidence},
			"compliance_check_failure":    {Key: "compliance_check_failure", Action: domain.FallbackManualReview, Severity: domain.SeverityHigh},
			"approval_prediction_failure": {Key: "approval_prediction_failure", Action: domain.FallbackDegradedResult, Confidence: DegradedConfidence},
		},
	}
}
