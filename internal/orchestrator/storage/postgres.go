package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	job_id             TEXT PRIMARY KEY,
	submission_id      TEXT NOT NULL,
	job_type           TEXT NOT NULL,
	priority           INTEGER NOT NULL,
	status             TEXT NOT NULL,
	current_stage      TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	recommendation     TEXT NOT NULL DEFAULT '',
	overall_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	record             JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_created ON pipeline_jobs (created_at DESC, job_id DESC);

CREATE TABLE IF NOT EXISTS pipeline_stage_logs (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	service       TEXT NOT NULL,
	attempt       INTEGER NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL,
	confidence    DOUBLE PRECISION,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pipeline_stage_logs_job ON pipeline_stage_logs (job_id);

CREATE TABLE IF NOT EXISTS pipeline_alerts (
	alert_id        TEXT PRIMARY KEY,
	alert_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	job_id          TEXT NOT NULL DEFAULT '',
	stage           TEXT NOT NULL DEFAULT '',
	service         TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL,
	data            JSONB,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ,
	resolved_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS pipeline_performance_snapshots (
	id       BIGSERIAL PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL,
	report   JSONB NOT NULL
);
`

// PostgresStore persists to PostgreSQL through sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an open connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveJob upserts the job summary and full record.
func (s *PostgresStore) SaveJob(ctx context.Context, rec domain.JobRecord) error {
	row, err := NewJobRow(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pipeline_jobs (
			job_id, submission_id, job_type, priority, status, current_stage,
			retry_count, recommendation, overall_confidence, error_message,
			record, created_at, updated_at, completed_at
		) VALUES (
			:job_id, :submission_id, :job_type, :priority, :status, :current_stage,
			:retry_count, :recommendation, :overall_confidence, :error_message,
			:record, :created_at, :updated_at, :completed_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_stage = EXCLUDED.current_stage,
			retry_count = EXCLUDED.retry_count,
			recommendation = EXCLUDED.recommendation,
			overall_confidence = EXCLUDED.overall_confidence,
			error_message = EXCLUDED.error_message,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// LogStage appends one invocation log row.
func (s *PostgresStore) LogStage(ctx context.Context, entry StageLog) error {
	query := `
		INSERT INTO pipeline_stage_logs (
			job_id, stage, service, attempt, status,
			started_at, duration_ms, confidence, error_message
		) VALUES (
			:job_id, :stage, :service, :attempt, :status,
			:started_at, :duration_ms, :confidence, :error_message
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to log stage: %w", err)
	}
	return nil
}

// SaveAlert upserts an alert, keeping lifecycle timestamps current.
func (s *PostgresStore) SaveAlert(ctx context.Context, alert domain.Alert) error {
	var data []byte
	if alert.Data != nil {
		var err error
		data, err = json.Marshal(alert.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal alert data: %w", err)
		}
	}

	query := `
		INSERT INTO pipeline_alerts (
			alert_id, alert_type, severity, job_id, stage, service,
			message, data, status, created_at, acknowledged_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (alert_id) DO UPDATE SET
			status = EXCLUDED.status,
			acknowledged_at = EXCLUDED.acknowledged_at,
			resolved_at = EXCLUDED.resolved_at
	`

	_, err := s.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.Type,
		alert.Severity,
		alert.JobID,
		alert.Stage,
		alert.Service,
		alert.Message,
		data,
		string(alert.Status),
		alert.CreatedAt,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// SavePerformanceSnapshot appends a performance report.
func (s *PostgresStore) SavePerformanceSnapshot(ctx context.Context, snap PerformanceSnapshot) error {
	report, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal performance snapshot: %w", err)
	}

	query := `INSERT INTO pipeline_performance_snapshots (taken_at, report) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, snap.TakenAt, report); err != nil {
		return fmt.Errorf("failed to save performance snapshot: %w", err)
	}
	return nil
}

// ListJobs returns one page of job history, newest first. One extra row is
// fetched so callers can tell whether another page exists.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]JobRow, error) {
	query := `
		SELECT
			job_id, submission_id, job_type, priority, status, current_stage,
			retry_count, recommendation, overall_confidence, error_message,
			record, created_at, updated_at, completed_at
		FROM pipeline_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.SubmissionID != "" {
		query += fmt.Sprintf(" AND submission_id = $%d", argIdx)
		args = append(args, filter.SubmissionID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []JobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return rows, nil
}
