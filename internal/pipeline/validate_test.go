package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func TestValidate(t *testing.T) {
	registered := DefaultDefinition().ServiceNames()

	tests := []struct {
		name      string
		mutate    func(def *domain.Definition)
		errString string
	}{
		{
			name:   "default definition is valid",
			mutate: func(*domain.Definition) {},
		},
		{
			name: "unknown service",
			mutate: func(def *domain.Definition) {
				def.Stages[1].Services = []string{"mystery_service"}
			},
			errString: `unknown service "mystery_service"`,
		},
		{
			name: "duplicate stage",
			mutate: func(def *domain.Definition) {
				def.Stages[1].Name = def.Stages[0].Name
			},
			errString: "duplicate stage name",
		},
		{
			name: "non-positive timeout",
			mutate: func(def *domain.Definition) {
				def.Stages[0].Timeout = 0
			},
			errString: "timeout must be greater than 0",
		},
		{
			name: "gate on unknown stage",
			mutate: func(def *domain.Definition) {
				def.QualityGates["ghost"] = domain.QualityGate{Stage: "ghost"}
			},
			errString: "gate references unknown stage",
		},
		{
			name: "fallback key without stage",
			mutate: func(def *domain.Definition) {
				def.Fallbacks["ghost_failure"] = domain.FallbackStrategy{Action: domain.FallbackManualReview}
			},
			errString: "key does not match any stage",
		},
		{
			name: "unknown rule",
			mutate: func(def *domain.Definition) {
				gate := def.QualityGates["approval_prediction"]
				gate.Rules = append(gate.Rules, domain.GateRule{Name: "x", Service: domain.ServicePrediction, Field: "f", Rule: "between"})
				def.QualityGates["approval_prediction"] = gate
			},
			errString: `unknown rule "between"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := DefaultDefinition()
			tt.mutate(def)

			err := Validate(def, registered)

			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
			var cfgErr *domain.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestValidate_EmptyPipeline(t *testing.T) {
	err := Validate(&domain.Definition{}, nil)
	require.Error(t, err)

	err = Validate(&domain.Definition{Stages: []domain.StageDefinition{{Name: "a", Services: []string{"svc"}, Timeout: time.Second}}}, []string{"svc"})
	assert.NoError(t, err)
}
