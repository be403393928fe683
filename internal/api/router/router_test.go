package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/api/dto"
	"github.com/cuongbtq/case-pipeline/internal/api/handler"
	"github.com/cuongbtq/case-pipeline/internal/capability"
	"github.com/cuongbtq/case-pipeline/internal/events"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	router *gin.Engine
	orch   *orchestrator.Orchestrator
	store  *storage.MemoryStore
	bus    *events.Bus
	gate   chan struct{}
}

// newTestServer wires the router to an orchestrator whose capabilities block
// until gate is closed.
func newTestServer(t *testing.T, start bool) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := make(chan struct{})

	reg := capability.NewRegistry()
	for _, name := range []string{
		domain.ServiceOCR, domain.ServiceNLP, domain.ServiceFormMapping,
		domain.ServiceCompliance, domain.ServicePrediction, domain.ServiceValidation,
	} {
		reg.Register(name, capability.Func(func(ctx context.Context, _ domain.Payload) (domain.Payload, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return domain.Payload{
				"confidence":            0.9,
				"entities":              []any{"diagnosis"},
				"completion_percentage": 0.95,
				"risk_level":            "low",
				"approval_likelihood":   0.8,
				"ready_for_submission":  true,
			}, nil
		}))
	}

	store := storage.NewMemoryStore()
	bus := events.NewBus(logger)
	promReg := prometheus.NewRegistry()

	orch, err := orchestrator.New(&orchestrator.Config{
		Logger:            logger,
		Capabilities:      reg,
		Store:             store,
		Events:            bus,
		Registerer:        promReg,
		MaxConcurrentJobs: 1,
		SchedulingTick:    10 * time.Millisecond,
		MonitorInterval:   time.Hour,
	})
	require.NoError(t, err)

	if start {
		require.NoError(t, orch.Start(context.Background()))
	}
	t.Cleanup(func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	r := SetupRouter(&handler.Dependencies{
		Logger:       logger,
		ServiceName:  "pipeline-service",
		Orchestrator: orch,
		Jobs:         store,
		Events:       bus,
		Metrics:      promReg,
	})

	return &testServer{router: r, orch: orch, store: store, bus: bus, gate: gate}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, body any) dto.CreateJobResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateJob(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{
			name:       "valid submission",
			body:       gin.H{"submission_id": "SUB-1", "job_type": "complex", "priority": 2, "submission_data": gin.H{"patient_id": "P-1"}},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing submission data",
			body:       gin.H{"submission_id": "SUB-2"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "priority out of range",
			body:       gin.H{"priority": 0, "submission_data": gin.H{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative max retries",
			body:       gin.H{"max_retries": -1, "submission_data": gin.H{}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	t.Run("acknowledgement", func(t *testing.T) {
		resp := s.submit(t, gin.H{"submission_data": gin.H{"documents": []string{"a.pdf"}}})
		assert.Equal(t, "queued", resp.Status)
		assert.Equal(t, 2, resp.QueuePosition)
		assert.InDelta(t, 33.0, resp.EstimatedProcessingTime, 0.01)
	})
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t, false)
	created := s.submit(t, gin.H{"submission_id": "SUB-9", "submission_data": gin.H{}})

	t.Run("pending job", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, domain.JobStatusPending, resp.Status)
		assert.Equal(t, "SUB-9", resp.SubmissionID)
		assert.Equal(t, 5, resp.Progress.TotalStages)
		assert.Equal(t, 0, resp.Progress.CompletedStages)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/jobs/0190a7e4-0000-7000-8000-000000000000", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t, false)
	created := s.submit(t, gin.H{"submission_data": gin.H{}})

	w := s.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/jobs/0190a7e4-0000-7000-8000-000000000000/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil)
	var resp dto.JobStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobStatusFailed, resp.Status)
	require.NotNil(t, resp.ErrorDetail)
	assert.Equal(t, domain.ErrJobCanceled.Error(), resp.ErrorDetail.Message)
}

func TestListJobs_Pagination(t *testing.T) {
	s := newTestServer(t, false)
	for i := 0; i < 5; i++ {
		s.submit(t, gin.H{"job_type": "standard", "submission_data": gin.H{}})
		time.Sleep(2 * time.Millisecond)
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		path := "/api/v1/jobs?page_size=2&status=pending"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		w := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, j := range resp.Jobs {
			assert.False(t, seen[j.JobID], "job %s listed twice", j.JobID)
			seen[j.JobID] = true
		}
		pages++
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)

	w := s.do(t, http.MethodGet, "/api/v1/jobs?cursor=%25%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelineEndpoints(t *testing.T) {
	s := newTestServer(t, true)
	created := s.submit(t, gin.H{"submission_data": gin.H{}})
	close(s.gate)

	require.Eventually(t, func() bool {
		rec, err := s.orch.GetJobStatus(created.JobID)
		return err == nil && rec.Status == domain.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("health", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/pipeline/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp orchestrator.PipelineHealth
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, orchestrator.HealthHealthy, resp.Status)
		assert.Len(t, resp.Services, 6)
	})

	t.Run("metrics", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/pipeline/metrics", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(1), resp["total_processed"])
		assert.Equal(t, float64(1), resp["success_rate"])
	})

	t.Run("prometheus", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `case_pipeline_jobs_finished_total{status="completed"} 1`)
	})

	t.Run("liveness", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "pipeline-service")
	})
}

func TestLiveness_FailingDependency(t *testing.T) {
	r := SetupRouter(&handler.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ServiceName: "pipeline-service",
		Checks:      map[string]handler.HealthChecker{"postgres": failingCheck{}},
		Metrics:     prometheus.NewRegistry(),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	created := s.submit(t, gin.H{"submission_data": gin.H{}})
	// cancelling a pending job raises a low severity job_failure alert
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", nil).Code)

	var list struct {
		Alerts []domain.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	w := s.do(t, http.MethodGet, "/api/v1/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	alertID := list.Alerts[0].AlertID
	assert.Equal(t, domain.AlertJobFailure, list.Alerts[0].Type)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alert domain.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alert))
	assert.Equal(t, domain.AlertStatusAcknowledged, alert.Status)

	w = s.do(t, http.MethodPost, "/api/v1/alerts/"+alertID+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/alerts?status=resolved", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/alerts?status=bogus", nil).Code)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t, false)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.bus.Subscribers() > 0 }, 2*time.Second, 5*time.Millisecond)
	created := s.submit(t, gin.H{"submission_data": gin.H{}})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			eventLine = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimPrefix(line, "data:")
		}
	}

	assert.Equal(t, string(domain.EventJobCreated), eventLine)
	var e domain.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &e))
	assert.Equal(t, created.JobID, e.JobID)
}
