package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/capability"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types(jobID string) []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventType
	for _, e := range p.events {
		if e.JobID == jobID && e.Type != domain.EventAlertRaised {
			out = append(out, e.Type)
		}
	}
	return out
}

func static(result domain.Payload) capability.Func {
	return func(context.Context, domain.Payload) (domain.Payload, error) {
		return result.Clone(), nil
	}
}

// happyRegistry returns capabilities producing complete, high confidence results.
func happyRegistry() *capability.Registry {
	reg := capability.NewRegistry()
	reg.Register(domain.ServiceOCR, static(domain.Payload{"confidence": 0.92, "text": "Patient: Jane Doe"}))
	reg.Register(domain.ServiceNLP, static(domain.Payload{"confidence": 0.88, "entities": []any{"diagnosis", "procedure"}}))
	reg.Register(domain.ServiceFormMapping, static(domain.Payload{"confidence": 0.9, "completion_percentage": 0.95}))
	reg.Register(domain.ServiceCompliance, static(domain.Payload{"confidence": 0.85, "risk_level": "low"}))
	reg.Register(domain.ServicePrediction, static(domain.Payload{"confidence": 0.8, "approval_likelihood": 0.82}))
	reg.Register(domain.ServiceValidation, static(domain.Payload{"confidence": 0.93, "ready_for_submission": true}))
	return reg
}

type testEnv struct {
	orch   *Orchestrator
	store  *storage.MemoryStore
	events *recordingPublisher
}

func newTestEnv(t *testing.T, caps Capabilities, mutate func(cfg *Config)) *testEnv {
	t.Helper()
	env := &testEnv{store: storage.NewMemoryStore(), events: &recordingPublisher{}}
	cfg := &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Capabilities:    caps,
		Store:           env.store,
		Events:          env.events,
		Registerer:      prometheus.NewRegistry(),
		BackoffDelays:   []time.Duration{time.Millisecond},
		SchedulingTick:  10 * time.Millisecond,
		MonitorInterval: time.Hour,
	}
	if mutate != nil {
		mutate(cfg)
	}

	orch, err := New(cfg)
	require.NoError(t, err)
	env.orch = orch
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.orch.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.orch.Stop(ctx)
	})
}

func (e *testEnv) submit(t *testing.T, data domain.Payload, opts SubmitOptions) string {
	t.Helper()
	ack, err := e.orch.Submit(context.Background(), data, opts)
	require.NoError(t, err)
	return ack.JobID
}

func (e *testEnv) waitTerminal(t *testing.T, jobID string) domain.JobRecord {
	t.Helper()
	var rec domain.JobRecord
	require.Eventually(t, func() bool {
		var err error
		rec, err = e.orch.GetJobStatus(jobID)
		return err == nil && rec.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return rec
}

func intPtr(v int) *int { return &v }
