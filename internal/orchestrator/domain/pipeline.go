package domain

import "time"

// StageDefinition is one ordered step of the pipeline.
type StageDefinition struct {
	Name     string        `json:"name"`
	Services []string      `json:"services"`
	Parallel bool          `json:"parallel"`
	Timeout  time.Duration `json:"timeout"`
	Retries  int           `json:"retries"`
}

// Gate rule kinds
const (
	RuleMin      = "min"
	RuleMax      = "max"
	RuleMinCount = "min_count"
	RuleMaxCount = "max_count"
	RuleRequired = "required"
	RuleEquals   = "equals"
)

// GateRule is one named threshold checked against a field of a service result.
type GateRule struct {
	Name    string  `json:"name"`
	Service string  `json:"service"`
	Field   string  `json:"field"`
	Rule    string  `json:"rule"`
	Value   float64 `json:"value,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// QualityGate is the declarative acceptance criteria for one stage.
type QualityGate struct {
	Stage            string     `json:"stage"`
	RequiredServices []string   `json:"required_services,omitempty"`
	Rules            []GateRule `json:"rules"`
}

// FallbackStrategy is applied once a stage's retry budget is exhausted.
type FallbackStrategy struct {
	Key        string  `json:"key"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Definition is the process-wide pipeline configuration shared by all jobs.
// Jobs copy the stage list at creation so later reloads do not affect them.
type Definition struct {
	Stages       []StageDefinition           `json:"stages"`
	QualityGates map[string]QualityGate      `json:"quality_gates"`
	Fallbacks    map[string]FallbackStrategy `json:"fallbacks"`
}

// FallbackKey returns the lookup key for a stage's fallback strategy.
func FallbackKey(stage string) string {
	return stage + "_failure"
}

// CloneStages returns a deep copy of the stage list.
func (d *Definition) CloneStages() []StageDefinition {
	stages := make([]StageDefinition, len(d.Stages))
	for i, s := range d.Stages {
		s.Services = append([]string(nil), s.Services...)
		stages[i] = s
	}
	return stages
}

// Stage returns the stage definition with the given name.
func (d *Definition) Stage(name string) (StageDefinition, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// ServiceNames returns every distinct service referenced by the stages, in first-use order.
func (d *Definition) ServiceNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range d.Stages {
		for _, svc := range s.Services {
			if _, ok := seen[svc]; ok {
				continue
			}
			seen[svc] = struct{}{}
			names = append(names, svc)
		}
	}
	return names
}
