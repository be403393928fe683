package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestStorage_EnsureSchema(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pipeline_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_InsertEvent(t *testing.T) {
	occurredAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := domain.EventRecord{
		EventType:  "job.completed",
		JobID:      "0190a7e4-0000-7000-8000-00000000000a",
		RoutingKey: "job.completed",
		Data:       `{"recommendation":"submit"}`,
		DurationMS: 4200,
		OccurredAt: occurredAt,
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_events")).
			WithArgs(rec.EventType, rec.JobID, "", rec.RoutingKey, rec.Data, rec.DurationMS, occurredAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, s.InsertEvent(context.Background(), rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_events")).
			WillReturnError(errors.New("connection refused"))

		err := s.InsertEvent(context.Background(), rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
