package orchestrator

import "github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"

// Health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthCritical  = "critical"
)

// Service error rate thresholds
const (
	degradedErrorRate  = 0.1
	unhealthyErrorRate = 0.3
)

// ServiceHealth is the rolling health of one capability.
type ServiceHealth struct {
	Status    string  `json:"status"`
	ErrorRate float64 `json:"error_rate"`
	Samples   int     `json:"samples"`
	Circuit   string  `json:"circuit,omitempty"`
}

// PipelineHealth is the overall health report.
type PipelineHealth struct {
	Status       string                   `json:"status"`
	Services     map[string]ServiceHealth `json:"services"`
	ActiveAlerts []domain.Alert           `json:"active_alerts"`
	Metrics      ProcessingMetrics        `json:"metrics"`
}

// PipelineHealth derives overall status from service health and active alerts.
func (o *Orchestrator) PipelineHealth() PipelineHealth {
	rates := o.svcRates.rates(o.now())
	var circuits map[string]string
	if cs, ok := o.caps.(CircuitStates); ok {
		circuits = cs.States()
	}

	services := make(map[string]ServiceHealth)
	for _, name := range o.Definition().ServiceNames() {
		r := rates[name]
		services[name] = serviceHealth(r, circuits[name])
	}

	active := o.alerts.list(domain.AlertStatusActive)

	return PipelineHealth{
		Status:       overallStatus(services, active),
		Services:     services,
		ActiveAlerts: active,
		Metrics:      o.ProcessingMetrics(),
	}
}

func serviceHealth(r rate, circuit string) ServiceHealth {
	h := ServiceHealth{ErrorRate: r.Ratio, Samples: r.Samples, Circuit: circuit}
	switch {
	case circuit == "open" || r.Ratio >= unhealthyErrorRate:
		h.Status = HealthUnhealthy
	case circuit == "half-open" || r.Ratio >= degradedErrorRate:
		h.Status = HealthDegraded
	default:
		h.Status = HealthHealthy
	}
	return h
}

func overallStatus(services map[string]ServiceHealth, active []domain.Alert) string {
	status := HealthHealthy
	for _, a := range active {
		switch a.Severity {
		case domain.SeverityCritical:
			return HealthCritical
		case domain.SeverityHigh:
			status = HealthDegraded
		}
	}
	for _, s := range services {
		switch s.Status {
		case HealthUnhealthy:
			return HealthCritical
		case HealthDegraded:
			status = HealthDegraded
		}
	}
	return status
}
