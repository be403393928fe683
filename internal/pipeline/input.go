package pipeline

import "github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"

// Shaper adds service-specific fields to an invocation input.
type Shaper func(input domain.Payload, prior []domain.StageResult)

// InputBuilder derives capability inputs from a job's submission and the
// results of the stages that already ran.
type InputBuilder struct {
	shapers map[string]Shaper
}

// NewInputBuilder creates a builder with the default shaping rules.
func NewInputBuilder() *InputBuilder {
	return &InputBuilder{shapers: map[string]Shaper{
		domain.ServiceFormMapping: shapeFormMapping,
		domain.ServiceCompliance:  shapeCompliance,
		domain.ServicePrediction:  shapePrediction,
		domain.ServiceValidation:  shapeValidation,
	}}
}

// WithShaper registers or replaces the shaping rule for a service.
func (b *InputBuilder) WithShaper(service string, shaper Shaper) *InputBuilder {
	b.shapers[service] = shaper
	return b
}

// Build returns the input for one invocation. The submission is copied, every
// prior stage's successful results are added under "<stage>_results", then the
// service's shaping rule runs.
func (b *InputBuilder) Build(service string, submission domain.Payload, prior []domain.StageResult) domain.Payload {
	input := submission.Clone()
	if input == nil {
		input = domain.Payload{}
	}
	for _, sr := range prior {
		results := make(map[string]any, len(sr.Outcomes))
		for svc, res := range sr.Results() {
			results[svc] = map[string]any(res.Clone())
		}
		input[sr.Stage+"_results"] = results
	}
	if shaper, ok := b.shapers[service]; ok {
		shaper(input, prior)
	}
	return input
}

// FindResult returns the latest successful result of a service across stages.
func FindResult(prior []domain.StageResult, service string) (domain.Payload, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if o, ok := prior[i].Outcome(service); ok && o.Succeeded() {
			return o.Result, true
		}
	}
	return nil, false
}

func shapeFormMapping(input domain.Payload, prior []domain.StageResult) {
	extracted := map[string]any{}
	if ocr, ok := FindResult(prior, domain.ServiceOCR); ok {
		for k, v := range ocr.Clone() {
			extracted[k] = v
		}
	}
	if nlp, ok := FindResult(prior, domain.ServiceNLP); ok {
		for k, v := range nlp.Clone() {
			extracted[k] = v
		}
	}
	input["extracted_data"] = extracted
}

func shapeCompliance(input domain.Payload, prior []domain.StageResult) {
	addResult(input, prior, "form_data", domain.ServiceFormMapping)
}

func shapePrediction(input domain.Payload, prior []domain.StageResult) {
	addResult(input, prior, "form_data", domain.ServiceFormMapping)
	addResult(input, prior, "compliance_data", domain.ServiceCompliance)
}

func shapeValidation(input domain.Payload, prior []domain.StageResult) {
	addResult(input, prior, "form_data", domain.ServiceFormMapping)
	addResult(input, prior, "compliance_data", domain.ServiceCompliance)
	addResult(input, prior, "prediction_data", domain.ServicePrediction)
}

func addResult(input domain.Payload, prior []domain.StageResult, key, service string) {
	if res, ok := FindResult(prior, service); ok {
		input[key] = map[string]any(res.Clone())
	}
}
