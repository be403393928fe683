package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func TestInputBuilder_Build(t *testing.T) {
	submission := domain.Payload{"patient_id": "P-1", "documents": []any{"a.pdf"}}
	prior := []domain.StageResult{
		stageResult("document_processing", true,
			success(domain.ServiceOCR, domain.Payload{"text": "ocr text", "confidence": 0.9}),
			success(domain.ServiceNLP, domain.Payload{"entities": []any{"dx"}, "confidence": 0.8}),
		),
	}
	builder := NewInputBuilder()

	t.Run("form mapping receives merged extraction", func(t *testing.T) {
		input := builder.Build(domain.ServiceFormMapping, submission, prior)

		assert.Equal(t, "P-1", input["patient_id"])
		stageResults, ok := input["document_processing_results"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, stageResults, domain.ServiceOCR)

		extracted, ok := input["extracted_data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ocr text", extracted["text"])
		assert.Equal(t, []any{"dx"}, extracted["entities"])
		assert.InDelta(t, 0.8, extracted["confidence"], 1e-9)
	})

	t.Run("submission is not mutated", func(t *testing.T) {
		input := builder.Build(domain.ServiceOCR, submission, prior)
		input["patient_id"] = "changed"

		assert.Equal(t, "P-1", submission["patient_id"])
		assert.NotContains(t, submission, "document_processing_results")
	})

	t.Run("validation receives downstream data", func(t *testing.T) {
		full := append(prior,
			stageResult("form_mapping", true, success(domain.ServiceFormMapping, domain.Payload{"fields": 10})),
			stageResult("compliance_check", true, success(domain.ServiceCompliance, domain.Payload{"risk_level": "low"})),
			stageResult("approval_prediction", true, success(domain.ServicePrediction, domain.Payload{"approval_likelihood": 0.8})),
		)

		input := builder.Build(domain.ServiceValidation, submission, full)

		assert.Contains(t, input, "form_data")
		assert.Contains(t, input, "compliance_data")
		assert.Contains(t, input, "prediction_data")
	})

	t.Run("failed services are not flattened", func(t *testing.T) {
		withFailure := []domain.StageResult{
			stageResult("document_processing", true,
				success(domain.ServiceOCR, domain.Payload{"text": "t"}),
				failure(domain.ServiceNLP, "down"),
			),
		}

		input := builder.Build(domain.ServiceFormMapping, submission, withFailure)

		stageResults := input["document_processing_results"].(map[string]any)
		assert.NotContains(t, stageResults, domain.ServiceNLP)
	})

	t.Run("custom shaper", func(t *testing.T) {
		b := NewInputBuilder().WithShaper("custom", func(input domain.Payload, _ []domain.StageResult) {
			input["custom"] = true
		})

		assert.Equal(t, true, b.Build("custom", nil, nil)["custom"])
	})
}
