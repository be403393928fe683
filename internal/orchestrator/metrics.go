package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

const metricsNamespace = "case_pipeline"

// ProcessingMetrics summarises job throughput.
type ProcessingMetrics struct {
	TotalProcessed        int64         `json:"total_processed"`
	SuccessCount          int64         `json:"success_count"`
	FailureCount          int64         `json:"failure_count"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ActiveJobs            int           `json:"active_jobs"`
	QueuedJobs            int           `json:"queued_jobs"`
}

// metrics holds the counters owned by one orchestrator.
type metrics struct {
	mu            sync.Mutex
	total         int64
	success       int64
	failure       int64
	totalDuration time.Duration

	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	invocations    *prometheus.CounterVec
	invocationTime *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	activeJobs     prometheus.Gauge
	queuedJobs     prometheus.Gauge
	stageErrorRate *prometheus.GaugeVec
}

// newMetrics registers collectors on reg. A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for processing",
		}, []string{"job_type"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"status"}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "End to end job processing time",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Time to resolve a stage including retries",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"stage"}),
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "service_invocations_total",
			Help:      "Capability invocations by outcome",
		}, []string{"service", "status"}),
		invocationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "service_invocation_seconds",
			Help:      "Capability invocation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_retries_total",
			Help:      "Stage retries granted",
		}, []string{"stage"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fallbacks_applied_total",
			Help:      "Fallback strategies applied",
		}, []string{"stage", "strategy"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised",
		}, []string{"type", "severity"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_jobs",
			Help:      "Jobs currently executing",
		}),
		queuedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queued_jobs",
			Help:      "Jobs waiting for admission",
		}),
		stageErrorRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stage_error_rate",
			Help:      "Failed stage attempts over the trailing window",
		}, []string{"stage"}),
	}
}

func (m *metrics) jobFinished(status domain.JobStatus, d time.Duration) {
	m.mu.Lock()
	m.total++
	if status == domain.JobStatusCompleted {
		m.success++
	} else {
		m.failure++
	}
	m.totalDuration += d
	m.mu.Unlock()

	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.Observe(d.Seconds())
}

func (m *metrics) invocation(o domain.ServiceOutcome) {
	m.invocations.WithLabelValues(o.Service, o.Status).Inc()
	m.invocationTime.WithLabelValues(o.Service).Observe(o.Duration.Seconds())
}

func (m *metrics) snapshot(active, queued int) ProcessingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := ProcessingMetrics{
		TotalProcessed: m.total,
		SuccessCount:   m.success,
		FailureCount:   m.failure,
		ActiveJobs:     active,
		QueuedJobs:     queued,
	}
	if m.total > 0 {
		pm.AverageProcessingTime = m.totalDuration / time.Duration(m.total)
	}
	return pm
}
