package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
	id           BIGSERIAL PRIMARY KEY,
	event_type   TEXT NOT NULL,
	job_id       TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL DEFAULT '',
	routing_key  TEXT NOT NULL DEFAULT '',
	data         JSONB,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	occurred_at  TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_job_id ON pipeline_events (job_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_type ON pipeline_events (event_type, occurred_at);
`

// Storage writes archived events to PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the pipeline_events table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create pipeline_events schema: %w", err)
	}
	return nil
}

// InsertEvent stores one event
func (s *Storage) InsertEvent(ctx context.Context, rec domain.EventRecord) error {
	query := `
		INSERT INTO pipeline_events (event_type, job_id, stage, routing_key, data, duration_ms, occurred_at)
		VALUES (:event_type, :job_id, :stage, :routing_key, :data, :duration_ms, :occurred_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	s.logger.Debug("Event archived",
		slog.String("event_type", rec.EventType),
		slog.String("job_id", rec.JobID),
	)

	return nil
}
