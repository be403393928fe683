package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func TestLookupFallback(t *testing.T) {
	fallbacks := DefaultDefinition().Fallbacks

	fb, ok := LookupFallback(fallbacks, "form_mapping")
	require.True(t, ok)
	assert.Equal(t, domain.FallbackStandardProcessing, fb.Action)

	_, ok = LookupFallback(fallbacks, "final_validation")
	assert.False(t, ok)
}

func TestApplyFallback(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	cause := errors.New("quality gate failed")
	def := DefaultDefinition()

	t.Run("standard processing resolves with fixed confidence", func(t *testing.T) {
		stage, _ := def.Stage("form_mapping")
		partial := stageResult("form_mapping", false,
			success(domain.ServiceFormMapping, domain.Payload{"confidence": 0.2, "completion_percentage": 0.5}),
		)

		resolved, alert := ApplyFallback(def.Fallbacks["form_mapping_failure"], stage, partial, cause, now)

		assert.Nil(t, alert)
		assert.Equal(t, domain.FallbackStandardProcessing, resolved.Fallback)
		assert.Equal(t, "quality gate failed", resolved.GateReason)
		require.Len(t, resolved.Outcomes, 1)
		out := resolved.Outcomes[0]
		assert.True(t, out.Succeeded())
		c, ok := out.Result.Confidence()
		require.True(t, ok)
		assert.InDelta(t, 0.7, c, 1e-9)
		assert.InDelta(t, 0.5, out.Result["completion_percentage"], 1e-9)

		// the partial input is left untouched
		orig, _ := partial.Outcomes[0].Result.Confidence()
		assert.InDelta(t, 0.2, orig, 1e-9)
	})

	t.Run("degraded result raises medium alert", func(t *testing.T) {
		stage, _ := def.Stage("approval_prediction")
		partial := stageResult("approval_prediction", false, failure(domain.ServicePrediction, "unavailable"))

		resolved, alert := ApplyFallback(def.Fallbacks["approval_prediction_failure"], stage, partial, cause, now)

		require.NotNil(t, alert)
		assert.Equal(t, domain.AlertFallbackApplied, alert.Type)
		assert.Equal(t, domain.SeverityMedium, alert.Severity)
		require.Len(t, resolved.Outcomes, 1)
		c, _ := resolved.Outcomes[0].Result.Confidence()
		assert.InDelta(t, 0.3, c, 1e-9)
		assert.Equal(t, true, resolved.Outcomes[0].Result["degraded"])
	})

	t.Run("manual review keeps partial results and escalates", func(t *testing.T) {
		stage, _ := def.Stage("document_processing")
		partial := stageResult("document_processing", false,
			failure(domain.ServiceOCR, "unreadable"),
			success(domain.ServiceNLP, domain.Payload{"entities": []any{"x"}}),
		)

		resolved, alert := ApplyFallback(def.Fallbacks["document_processing_failure"], stage, partial, cause, now)

		require.NotNil(t, alert)
		assert.Equal(t, domain.AlertManualReview, alert.Type)
		assert.Equal(t, domain.SeverityHigh, alert.Severity)
		assert.Equal(t, "document_processing", alert.Stage)
		require.Len(t, resolved.Outcomes, 2)
		assert.Equal(t, domain.ServiceOCR, resolved.Outcomes[0].Service)
		assert.False(t, resolved.Outcomes[0].Succeeded())
		assert.Equal(t, domain.FallbackManualReview, resolved.Fallback)
	})
}
