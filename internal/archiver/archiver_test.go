package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
	pipelinedomain "github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

const (
	jobA = "0190a7e4-0000-7000-8000-00000000000a"
	jobB = "0190a7e4-0000-7000-8000-00000000000b"
)

type ackResult struct {
	acked   bool
	requeue bool
}

// recordingAck implements amqp.Acknowledger
type recordingAck struct {
	mu      sync.Mutex
	results map[uint64]ackResult
}

func newRecordingAck() *recordingAck {
	return &recordingAck{results: make(map[uint64]ackResult)}
}

func (r *recordingAck) Ack(tag uint64, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[tag] = ackResult{acked: true}
	return nil
}

func (r *recordingAck) Nack(tag uint64, _ bool, requeue bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[tag] = ackResult{requeue: requeue}
	return nil
}

func (r *recordingAck) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func (r *recordingAck) get(tag uint64) (ackResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[tag]
	return res, ok
}

type chanSource struct {
	ch  chan amqp.Delivery
	err error
}

func (s *chanSource) Consume(string) (<-chan amqp.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

// memoryStore fails inserts for jobs listed in failJobs
type memoryStore struct {
	mu       sync.Mutex
	records  []domain.EventRecord
	failJobs map[string]bool
}

func (m *memoryStore) InsertEvent(_ context.Context, rec domain.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failJobs[rec.JobID] {
		return errors.New("connection reset")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, body any) amqp.Delivery {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		RoutingKey:   "job.created",
		Body:         raw,
	}
}

func TestArchiver_AckNackRules(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ack := newRecordingAck()
	source := &chanSource{ch: make(chan amqp.Delivery, 8)}
	store := &memoryStore{failJobs: map[string]bool{jobB: true}}
	reg := prometheus.NewRegistry()

	a := NewArchiver(&Config{
		Logger:      logger,
		Source:      source,
		Store:       store,
		Registerer:  reg,
		ConsumerTag: "archiver-test",
		Concurrency: 2,
	})

	now := time.Now().UTC()
	source.ch <- delivery(t, ack, 1, pipelinedomain.Event{Type: pipelinedomain.EventJobCreated, JobID: jobA, Timestamp: now})
	source.ch <- delivery(t, ack, 2, "{not json")
	source.ch <- delivery(t, ack, 3, pipelinedomain.Event{Type: pipelinedomain.EventJobCreated, JobID: "job-42"})
	source.ch <- delivery(t, ack, 4, pipelinedomain.Event{Type: pipelinedomain.EventJobFailed, JobID: jobB})
	source.ch <- delivery(t, ack, 5, pipelinedomain.Event{Type: pipelinedomain.EventAlertRaised, Data: pipelinedomain.Payload{"type": "high_error_rate"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	want := map[uint64]ackResult{
		1: {acked: true},
		2: {requeue: false},
		3: {requeue: false},
		4: {requeue: true},
		5: {acked: true},
	}
	require.Eventually(t, func() bool {
		for tag := range want {
			if _, ok := ack.get(tag); !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	a.Stop()

	for tag, w := range want {
		got, _ := ack.get(tag)
		assert.Equal(t, w, got, "delivery %d", tag)
	}
	assert.Equal(t, 2, store.count())
	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.messages.WithLabelValues(outcomeArchived)))
	assert.Equal(t, float64(2), testutil.ToFloat64(a.metrics.messages.WithLabelValues(outcomeRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.metrics.messages.WithLabelValues(outcomeRequeued)))
}

func TestArchiver_StartFailsWithoutQueue(t *testing.T) {
	a := NewArchiver(&Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source: &chanSource{err: errors.New("no queue configured")},
		Store:  &memoryStore{},
	})

	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

func TestArchiver_StopsWhenDeliveriesClose(t *testing.T) {
	source := &chanSource{ch: make(chan amqp.Delivery)}
	a := NewArchiver(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:      source,
		Store:       &memoryStore{},
		Concurrency: 1,
	})

	done := make(chan error, 1)
	go func() { done <- a.Start(context.Background()) }()
	close(source.ch)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not return after the delivery channel closed")
	}
	a.Stop()
	a.Stop()
}
