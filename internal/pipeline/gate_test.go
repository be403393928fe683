package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func TestGateEvaluator_Evaluate(t *testing.T) {
	evaluator := NewGateEvaluator(DefaultDefinition().QualityGates)

	tests := []struct {
		name       string
		stage      string
		result     domain.StageResult
		wantPassed bool
		wantReason []string
	}{
		{
			name:       "stage without gate passes",
			stage:      "final_validation",
			result:     stageResult("final_validation", false),
			wantPassed: true,
		},
		{
			name:  "document processing above thresholds",
			stage: "document_processing",
			result: stageResult("document_processing", false,
				success(domain.ServiceOCR, domain.Payload{"confidence": 0.9}),
				success(domain.ServiceNLP, domain.Payload{"entities": []any{"a", "b"}}),
			),
			wantPassed: true,
		},
		{
			name:  "low ocr confidence",
			stage: "document_processing",
			result: stageResult("document_processing", false,
				success(domain.ServiceOCR, domain.Payload{"confidence": 0.5}),
				success(domain.ServiceNLP, domain.Payload{"entities": []any{"a"}}),
			),
			wantPassed: false,
			wantReason: []string{"ocr_service.confidence 0.50 below minimum 0.70"},
		},
		{
			name:  "required service failed",
			stage: "document_processing",
			result: stageResult("document_processing", false,
				failure(domain.ServiceOCR, "boom"),
				success(domain.ServiceNLP, domain.Payload{"entities": []any{"a"}}),
			),
			wantPassed: false,
			wantReason: []string{"required service ocr_service did not succeed"},
		},
		{
			name:  "optional parallel service failure tolerated",
			stage: "document_processing",
			result: stageResult("document_processing", false,
				success(domain.ServiceOCR, domain.Payload{"confidence": 0.8}),
				failure(domain.ServiceNLP, "timeout"),
			),
			wantPassed: true,
		},
		{
			name:  "multiple unmet thresholds joined",
			stage: "form_mapping",
			result: stageResult("form_mapping", false,
				success(domain.ServiceFormMapping, domain.Payload{"confidence": 0.5, "completion_percentage": 0.4}),
			),
			wantPassed: false,
			wantReason: []string{"min_completion_ratio", "min_mapping_confidence", "; "},
		},
		{
			name:  "absent field not evaluated",
			stage: "approval_prediction",
			result: stageResult("approval_prediction", false,
				success(domain.ServicePrediction, domain.Payload{"approval_likelihood": 0.9}),
			),
			wantPassed: true,
		},
		{
			name:  "required field missing",
			stage: "compliance_check",
			result: stageResult("compliance_check", false,
				success(domain.ServiceCompliance, domain.Payload{"confidence": 0.9}),
			),
			wantPassed: false,
			wantReason: []string{"compliance_service.risk_level is required"},
		},
		{
			name:  "empty entity list below min count",
			stage: "document_processing",
			result: stageResult("document_processing", false,
				success(domain.ServiceOCR, domain.Payload{"confidence": 0.9}),
				success(domain.ServiceNLP, domain.Payload{"entities": []any{}}),
			),
			wantPassed: false,
			wantReason: []string{"nlp_service.entities has 0 entries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluator.Evaluate(tt.stage, tt.result)

			assert.Equal(t, tt.wantPassed, got.Passed)
			if tt.wantPassed {
				assert.Empty(t, got.Reason)
			}
			for _, part := range tt.wantReason {
				assert.Contains(t, got.Reason, part)
			}
		})
	}
}

func TestGateEvaluator_EvaluateIsIdempotent(t *testing.T) {
	evaluator := NewGateEvaluator(DefaultDefinition().QualityGates)
	result := stageResult("form_mapping", false,
		success(domain.ServiceFormMapping, domain.Payload{"confidence": 0.1, "completion_percentage": 0.2}),
	)
	before := result.Clone()

	first := evaluator.Evaluate("form_mapping", result)
	second := evaluator.Evaluate("form_mapping", result)

	assert.Equal(t, first, second)
	assert.False(t, first.Passed)
	assert.Equal(t, before, result)
}

func TestGateEvaluator_Rules(t *testing.T) {
	tests := []struct {
		name       string
		rule       domain.GateRule
		result     domain.Payload
		wantPassed bool
	}{
		{"max within", domain.GateRule{Name: "violations", Field: "violations", Rule: domain.RuleMax, Value: 2}, domain.Payload{"violations": 1}, true},
		{"max exceeded", domain.GateRule{Name: "violations", Field: "violations", Rule: domain.RuleMax, Value: 2}, domain.Payload{"violations": 3}, false},
		{"max count exceeded", domain.GateRule{Name: "issues", Field: "issues", Rule: domain.RuleMaxCount, Value: 1}, domain.Payload{"issues": []any{"a", "b"}}, false},
		{"equals matches case-insensitively", domain.GateRule{Name: "state", Field: "state", Rule: domain.RuleEquals, Text: "ok"}, domain.Payload{"state": "OK"}, true},
		{"equals mismatch", domain.GateRule{Name: "state", Field: "state", Rule: domain.RuleEquals, Text: "ok"}, domain.Payload{"state": "bad"}, false},
		{"nested path", domain.GateRule{Name: "score", Field: "risk.score", Rule: domain.RuleMin, Value: 0.5}, domain.Payload{"risk": map[string]any{"score": 0.6}}, true},
		{"non numeric min", domain.GateRule{Name: "score", Field: "score", Rule: domain.RuleMin, Value: 0.5}, domain.Payload{"score": "high"}, false},
		{"required blank string", domain.GateRule{Name: "id", Field: "id", Rule: domain.RuleRequired}, domain.Payload{"id": "  "}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.Service = "svc"
			evaluator := NewGateEvaluator(map[string]domain.QualityGate{
				"stage": {Stage: "stage", Rules: []domain.GateRule{tt.rule}},
			})

			got := evaluator.Evaluate("stage", stageResult("stage", false, success("svc", tt.result)))

			assert.Equal(t, tt.wantPassed, got.Passed, got.Reason)
		})
	}
}
