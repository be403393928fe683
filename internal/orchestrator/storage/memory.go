package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// MemoryStore keeps everything in process. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]JobRow
	stageLogs []StageLog
	alerts    map[string]domain.Alert
	snapshots []PerformanceSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]JobRow),
		alerts: make(map[string]domain.Alert),
	}
}

func (m *MemoryStore) SaveJob(_ context.Context, rec domain.JobRecord) error {
	row, err := NewJobRow(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[row.JobID] = row
	return nil
}

func (m *MemoryStore) LogStage(_ context.Context, entry StageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageLogs = append(m.stageLogs, entry)
	return nil
}

func (m *MemoryStore) SaveAlert(_ context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.AlertID] = alert
	return nil
}

func (m *MemoryStore) SavePerformanceSnapshot(_ context.Context, snap PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

// ListJobs mirrors the keyset pagination of the Postgres store.
func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]JobRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]JobRow, 0, len(m.jobs))
	for _, row := range m.jobs {
		if filter.SubmissionID != "" && row.SubmissionID != filter.SubmissionID {
			continue
		}
		if filter.JobType != "" && row.JobType != filter.JobType {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if row.CreatedAt.After(c.CreatedAt) || (row.CreatedAt.Equal(c.CreatedAt) && row.JobID >= c.JobID) {
				continue
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].JobID > rows[j].JobID
	})

	if limit := filter.PageSize + 1; len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// StageLogs returns a copy of the invocation log.
func (m *MemoryStore) StageLogs() []StageLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]StageLog(nil), m.stageLogs...)
}

// Alerts returns a copy of the stored alerts.
func (m *MemoryStore) Alerts() []domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	return out
}

// Job returns the stored row for a job.
func (m *MemoryStore) Job(jobID string) (JobRow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.jobs[jobID]
	return row, ok
}

// Snapshots returns a copy of the stored performance snapshots.
func (m *MemoryStore) Snapshots() []PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PerformanceSnapshot(nil), m.snapshots...)
}
