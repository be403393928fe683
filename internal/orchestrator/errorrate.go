package orchestrator

import (
	"sync"
	"time"
)

type sample struct {
	at     time.Time
	failed bool
}

// rateWindow tracks failure ratios per key over a trailing window.
type rateWindow struct {
	window time.Duration

	mu      sync.Mutex
	samples map[string][]sample
}

func newRateWindow(window time.Duration) *rateWindow {
	return &rateWindow{window: window, samples: make(map[string][]sample)}
}

func (w *rateWindow) record(key string, failed bool, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[key] = append(w.samples[key], sample{at: at, failed: failed})
}

// rate is the failure ratio for a key and the number of samples it is based on.
type rate struct {
	Ratio   float64
	Samples int
}

// rates prunes samples older than the window and returns the ratio per key.
func (w *rateWindow) rates(now time.Time) map[string]rate {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	out := make(map[string]rate, len(w.samples))
	for key, samples := range w.samples {
		i := 0
		for i < len(samples) && samples[i].at.Before(cutoff) {
			i++
		}
		samples = samples[i:]
		if len(samples) == 0 {
			delete(w.samples, key)
			out[key] = rate{}
			continue
		}
		w.samples[key] = samples

		failed := 0
		for _, s := range samples {
			if s.failed {
				failed++
			}
		}
		out[key] = rate{Ratio: float64(failed) / float64(len(samples)), Samples: len(samples)}
	}
	return out
}
