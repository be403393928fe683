package pipeline

import (
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func success(service string, result domain.Payload) domain.ServiceOutcome {
	return domain.ServiceOutcome{Service: service, Status: domain.OutcomeSuccess, Result: result}
}

func failure(service, msg string) domain.ServiceOutcome {
	return domain.ServiceOutcome{Service: service, Status: domain.OutcomeError, Error: msg}
}

func stageResult(stage string, gatePassed bool, outcomes ...domain.ServiceOutcome) domain.StageResult {
	return domain.StageResult{
		Stage:       stage,
		Outcomes:    outcomes,
		Attempts:    1,
		GatePassed:  gatePassed,
		CompletedAt: time.Unix(1700000000, 0).UTC(),
	}
}

// happyResults is a fully successful run over the default pipeline.
func happyResults() []domain.StageResult {
	return []domain.StageResult{
		stageResult("document_processing", true,
			success(domain.ServiceOCR, domain.Payload{"confidence": 0.9, "text": "patient record"}),
			success(domain.ServiceNLP, domain.Payload{"confidence": 0.8, "entities": []any{"diagnosis"}}),
		),
		stageResult("form_mapping", true,
			success(domain.ServiceFormMapping, domain.Payload{"confidence": 0.9, "completion_percentage": 95.0}),
		),
		stageResult("compliance_check", true,
			success(domain.ServiceCompliance, domain.Payload{"confidence": 0.85, "risk_level": "low"}),
		),
		stageResult("approval_prediction", true,
			success(domain.ServicePrediction, domain.Payload{"confidence": 0.8, "approval_likelihood": 0.75}),
		),
		stageResult("final_validation", true,
			success(domain.ServiceValidation, domain.Payload{"confidence": 0.95, "ready_for_submission": true}),
		),
	}
}
