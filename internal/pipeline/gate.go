package pipeline

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// GateResult is the outcome of evaluating a stage against its quality gate.
type GateResult struct {
	Passed bool
	Reason string
}

// GateEvaluator checks stage results against declarative thresholds.
// It holds no mutable state; Evaluate is safe for concurrent use.
type GateEvaluator struct {
	gates map[string]domain.QualityGate
}

// NewGateEvaluator creates an evaluator over the given gates keyed by stage.
func NewGateEvaluator(gates map[string]domain.QualityGate) *GateEvaluator {
	copied := make(map[string]domain.QualityGate, len(gates))
	for k, v := range gates {
		copied[k] = v
	}
	return &GateEvaluator{gates: copied}
}

// Evaluate returns whether the stage result satisfies its gate. Stages without
// a gate pass. Thresholds whose field is absent from the result are skipped,
// except "required" thresholds.
func (e *GateEvaluator) Evaluate(stage string, result domain.StageResult) GateResult {
	gate, ok := e.gates[stage]
	if !ok {
		return GateResult{Passed: true}
	}

	var reasons []string
	for _, svc := range gate.RequiredServices {
		outcome, ok := result.Outcome(svc)
		if !ok || !outcome.Succeeded() {
			reasons = append(reasons, fmt.Sprintf("required service %s did not succeed", svc))
		}
	}

	for _, rule := range gate.Rules {
		outcome, ok := result.Outcome(rule.Service)
		if !ok || !outcome.Succeeded() {
			continue
		}
		if reason, failed := checkRule(rule, outcome.Result); failed {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) == 0 {
		return GateResult{Passed: true}
	}
	return GateResult{Passed: false, Reason: strings.Join(reasons, "; ")}
}

func checkRule(rule domain.GateRule, result domain.Payload) (string, bool) {
	label := rule.Service + "." + rule.Field
	value, present := lookup(result, rule.Field)

	switch rule.Rule {
	case domain.RuleRequired:
		if !present || isEmpty(value) {
			return fmt.Sprintf("%s is required (%s)", label, rule.Name), true
		}
	case domain.RuleMin, domain.RuleMax:
		if !present {
			return "", false
		}
		n, ok := toNumber(value)
		if !ok {
			return fmt.Sprintf("%s is not numeric (%s)", label, rule.Name), true
		}
		if rule.Rule == domain.RuleMin && n < rule.Value {
			return fmt.Sprintf("%s %.2f below minimum %.2f (%s)", label, n, rule.Value, rule.Name), true
		}
		if rule.Rule == domain.RuleMax && n > rule.Value {
			return fmt.Sprintf("%s %.2f above maximum %.2f (%s)", label, n, rule.Value, rule.Name), true
		}
	case domain.RuleMinCount, domain.RuleMaxCount:
		if !present {
			return "", false
		}
		count, ok := length(value)
		if !ok {
			return fmt.Sprintf("%s is not a list (%s)", label, rule.Name), true
		}
		if rule.Rule == domain.RuleMinCount && float64(count) < rule.Value {
			return fmt.Sprintf("%s has %d entries, minimum %.0f (%s)", label, count, rule.Value, rule.Name), true
		}
		if rule.Rule == domain.RuleMaxCount && float64(count) > rule.Value {
			return fmt.Sprintf("%s has %d entries, maximum %.0f (%s)", label, count, rule.Value, rule.Name), true
		}
	case domain.RuleEquals:
		if !present {
			return "", false
		}
		if s, _ := value.(string); !strings.EqualFold(s, rule.Text) {
			return fmt.Sprintf("%s is %v, expected %s (%s)", label, value, rule.Text, rule.Name), true
		}
	}
	return "", false
}

// lookup resolves a dotted field path inside a payload.
func lookup(p domain.Payload, path string) (any, bool) {
	var current any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch v := current.(type) {
		case map[string]any:
			m = v
		case domain.Payload:
			m = v
		default:
			return nil, false
		}
		next, ok := m[part]
		if !ok || next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

func toNumber(v any) (float64, bool) {
	return domain.Payload{"v": v}.Number("v")
}

func length(v any) (int, bool) {
	switch val := v.(type) {
	case []any:
		return len(val), true
	case []string:
		return len(val), true
	case []map[string]any:
		return len(val), true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case domain.Payload:
		return len(val) == 0
	default:
		return v == nil
	}
}
