package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

func record(id string, createdAt time.Time, status domain.JobStatus) domain.JobRecord {
	j := domain.NewJob(id, "sub-"+id, domain.DefaultJobType, 5, 3, domain.Payload{}, nil, createdAt)
	rec := j.Snapshot()
	rec.Status = status
	return rec
}

func TestMemoryStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		status := domain.JobStatusCompleted
		if i%2 == 1 {
			status = domain.JobStatusFailed
		}
		require.NoError(t, store.SaveJob(ctx, record(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute), status)))
	}

	t.Run("newest first with one extra row", func(t *testing.T) {
		rows, err := store.ListJobs(ctx, JobFilter{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "job-4", rows[0].JobID)
		assert.Equal(t, "job-3", rows[1].JobID)
	})

	t.Run("cursor continues after last row", func(t *testing.T) {
		rows, err := store.ListJobs(ctx, JobFilter{
			PageSize: 10,
			Cursor:   &JobCursor{CreatedAt: base.Add(3 * time.Minute), JobID: "job-3"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "job-2", rows[0].JobID)
	})

	t.Run("status filter", func(t *testing.T) {
		rows, err := store.ListJobs(ctx, JobFilter{PageSize: 10, Status: string(domain.JobStatusFailed)})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}

func TestMemoryStore_SaveJobUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := record("job-1", time.Now().UTC(), domain.JobStatusPending)
	require.NoError(t, store.SaveJob(ctx, rec))

	rec.Status = domain.JobStatusCompleted
	rec.FinalResult = &domain.FinalResult{Recommendation: domain.RecommendationSubmit, OverallConfidence: 0.9}
	require.NoError(t, store.SaveJob(ctx, rec))

	row, ok := store.Job("job-1")
	require.True(t, ok)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, domain.RecommendationSubmit, row.Recommendation)
	assert.Contains(t, row.Record, `"job_id":"job-1"`)
}

func TestNewStageLog(t *testing.T) {
	c := 0.8
	started := time.Now().UTC()
	entry := NewStageLog("job-1", "form_mapping", 2, domain.ServiceOutcome{
		Service:    domain.ServiceFormMapping,
		Status:     domain.OutcomeSuccess,
		Confidence: &c,
		StartedAt:  started,
		Duration:   1500 * time.Millisecond,
	})

	assert.Equal(t, "form_mapping_service", entry.Service)
	assert.Equal(t, 2, entry.Attempt)
	assert.Equal(t, int64(1500), entry.DurationMS)
	assert.Equal(t, &c, entry.Confidence)
}
