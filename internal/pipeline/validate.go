package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

var validRules = []string{
	domain.RuleMin,
	domain.RuleMax,
	domain.RuleMinCount,
	domain.RuleMaxCount,
	domain.RuleRequired,
	domain.RuleEquals,
}

var validActions = []string{
	domain.FallbackManualReview,
	domain.FallbackDegradedResult,
	domain.FallbackStandardProcessing,
}

// Validate checks a pipeline definition against the set of registered
// capability names. All problems are reported, each as a ConfigurationError.
func Validate(def *domain.Definition, registered []string) error {
	if def == nil || len(def.Stages) == 0 {
		return domain.NewConfigurationError("stages", "at least one stage is required")
	}

	var errs []error
	stageNames := make(map[string]domain.StageDefinition, len(def.Stages))
	for i, stage := range def.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if stage.Name == "" {
			errs = append(errs, domain.NewConfigurationError(field, "stage name is required"))
			continue
		}
		field = "stages." + stage.Name
		if _, dup := stageNames[stage.Name]; dup {
			errs = append(errs, domain.NewConfigurationError(field, "duplicate stage name"))
			continue
		}
		stageNames[stage.Name] = stage

		if len(stage.Services) == 0 {
			errs = append(errs, domain.NewConfigurationError(field, "at least one service is required"))
		}
		seen := make(map[string]struct{}, len(stage.Services))
		for _, svc := range stage.Services {
			if _, dup := seen[svc]; dup {
				errs = append(errs, domain.NewConfigurationError(field, "service %q listed twice", svc))
			}
			seen[svc] = struct{}{}
			if !slices.Contains(registered, svc) {
				errs = append(errs, domain.NewConfigurationError(field, "unknown service %q", svc))
			}
		}
		if stage.Timeout <= 0 {
			errs = append(errs, domain.NewConfigurationError(field, "timeout must be greater than 0"))
		}
		if stage.Retries < 0 {
			errs = append(errs, domain.NewConfigurationError(field, "retries must not be negative"))
		}
	}

	for name, gate := range def.QualityGates {
		field := "quality_gates." + name
		stage, ok := stageNames[name]
		if !ok {
			errs = append(errs, domain.NewConfigurationError(field, "gate references unknown stage"))
			continue
		}
		for _, svc := range gate.RequiredServices {
			if !slices.Contains(stage.Services, svc) {
				errs = append(errs, domain.NewConfigurationError(field, "required service %q is not part of the stage", svc))
			}
		}
		for _, rule := range gate.Rules {
			if rule.Name == "" {
				errs = append(errs, domain.NewConfigurationError(field, "threshold name is required"))
			}
			if !slices.Contains(validRules, rule.Rule) {
				errs = append(errs, domain.NewConfigurationError(field, "threshold %q has unknown rule %q", rule.Name, rule.Rule))
			}
			if rule.Field == "" {
				errs = append(errs, domain.NewConfigurationError(field, "threshold %q has no field", rule.Name))
			}
			if !slices.Contains(stage.Services, rule.Service) {
				errs = append(errs, domain.NewConfigurationError(field, "threshold %q references service %q outside the stage", rule.Name, rule.Service))
			}
		}
	}

	for key, fb := range def.Fallbacks {
		field := "fallbacks." + key
		matched := false
		for name := range stageNames {
			if domain.FallbackKey(name) == key {
				matched = true
				break
			}
		}
		if !matched {
			errs = append(errs, domain.NewConfigurationError(field, "key does not match any stage"))
		}
		if !slices.Contains(validActions, fb.Action) {
			errs = append(errs, domain.NewConfigurationError(field, "unknown action %q", fb.Action))
		}
		if fb.Confidence < 0 || fb.Confidence > 1 {
			errs = append(errs, domain.NewConfigurationError(field, "confidence must be within [0,1]"))
		}
	}

	return errors.Join(errs...)
}
