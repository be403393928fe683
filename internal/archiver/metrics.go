package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes
const (
	outcomeArchived = "archived"
	outcomeRejected = "rejected"
	outcomeRequeued = "requeued"
)

type metrics struct {
	messages     *prometheus.CounterVec
	writeSeconds prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "case_pipeline",
			Subsystem: "archiver",
			Name:      "messages_total",
			Help:      "Event messages handled by outcome",
		}, []string{"outcome"}),
		writeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "case_pipeline",
			Subsystem: "archiver",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing one event",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
