package archiver

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/case-pipeline/internal/archiver/domain"
)

func TestDecodeEvent(t *testing.T) {
	published := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		wantErr error
		check   func(t *testing.T, rec domain.EventRecord)
	}{
		{
			name: "stage event",
			body: `{"type":"stage.completed","job_id":"` + jobA + `","stage":"form_mapping","duration":1500000000,"timestamp":"2026-05-01T09:59:00Z","data":{"status":"success"}}`,
			check: func(t *testing.T, rec domain.EventRecord) {
				assert.Equal(t, "stage.completed", rec.EventType)
				assert.Equal(t, "form_mapping", rec.Stage)
				assert.Equal(t, int64(1500), rec.DurationMS)
				assert.JSONEq(t, `{"status":"success"}`, rec.Data)
				assert.Equal(t, "2026-05-01T09:59:00Z", rec.OccurredAt.Format(time.RFC3339))
			},
		},
		{
			name: "missing timestamp uses publish time",
			body: `{"type":"job.created","job_id":"` + jobA + `"}`,
			check: func(t *testing.T, rec domain.EventRecord) {
				assert.True(t, published.Equal(rec.OccurredAt))
				assert.Equal(t, "{}", rec.Data)
			},
		},
		{
			name: "system alert without job",
			body: `{"type":"alert.raised","data":{"type":"high_error_rate"}}`,
			check: func(t *testing.T, rec domain.EventRecord) {
				assert.Empty(t, rec.JobID)
			},
		},
		{name: "invalid json", body: `{"type":`, wantErr: domain.ErrMalformedMessage},
		{name: "missing type", body: `{"job_id":"` + jobA + `"}`, wantErr: domain.ErrMalformedMessage},
		{name: "job event without job", body: `{"type":"job.completed"}`, wantErr: domain.ErrInvalidJobID},
		{name: "non uuid job", body: `{"type":"job.completed","job_id":"123"}`, wantErr: domain.ErrInvalidJobID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := decodeEvent(amqp.Delivery{
				Body:       []byte(tt.body),
				RoutingKey: "pipeline.events",
				Timestamp:  published,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, shouldRequeue(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "pipeline.events", rec.RoutingKey)
			tt.check(t, rec)
		})
	}
}

func TestShouldRequeue(t *testing.T) {
	assert.True(t, shouldRequeue(domain.NewRetryableError(errors.New("timeout"))))
	assert.False(t, shouldRequeue(errors.New("unknown")))
	assert.False(t, shouldRequeue(domain.ErrMalformedMessage))
}
