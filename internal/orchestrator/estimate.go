package orchestrator

import (
	"sync"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// EstimationConfig tunes the processing time estimate returned on submit.
type EstimationConfig struct {
	BaseTime          time.Duration
	HistorySize       int
	ComplexityFactors map[string]float64
	PerDocumentFactor float64
	MaxDocuments      int
}

func (c *EstimationConfig) applyDefaults() {
	if c.BaseTime <= 0 {
		c.BaseTime = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.ComplexityFactors == nil {
		c.ComplexityFactors = map[string]float64{
			"standard": 1.0,
			"urgent":   0.8,
			"complex":  1.5,
			"appeal":   1.3,
		}
	}
	if c.PerDocumentFactor <= 0 {
		c.PerDocumentFactor = 0.1
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = 10
	}
}

// estimator derives expected processing time from recent completions.
type estimator struct {
	cfg EstimationConfig

	mu      sync.Mutex
	history []time.Duration
	next    int
}

func newEstimator(cfg EstimationConfig) *estimator {
	return &estimator{cfg: cfg, history: make([]time.Duration, 0, cfg.HistorySize)}
}

func (e *estimator) record(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) < e.cfg.HistorySize {
		e.history = append(e.history, d)
		return
	}
	e.history[e.next] = d
	e.next = (e.next + 1) % e.cfg.HistorySize
}

func (e *estimator) average() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return e.cfg.BaseTime
	}
	var sum time.Duration
	for _, d := range e.history {
		sum += d
	}
	return sum / time.Duration(len(e.history))
}

// estimate returns average × complexity factor × input size multiplier.
func (e *estimator) estimate(jobType string, data domain.Payload) time.Duration {
	factor, ok := e.cfg.ComplexityFactors[jobType]
	if !ok {
		factor = 1.0
	}
	docs := 0
	switch v := data["documents"].(type) {
	case []any:
		docs = len(v)
	case []string:
		docs = len(v)
	}
	docs = min(docs, e.cfg.MaxDocuments)
	multiplier := 1 + float64(docs)*e.cfg.PerDocumentFactor
	return time.Duration(float64(e.average()) * factor * multiplier)
}
