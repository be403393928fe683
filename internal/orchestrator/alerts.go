package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// alertBook holds alerts raised by this process, oldest evicted first.
type alertBook struct {
	limit int

	mu     sync.RWMutex
	order  []string
	alerts map[string]*domain.Alert
}

func newAlertBook(limit int) *alertBook {
	return &alertBook{limit: limit, alerts: make(map[string]*domain.Alert)}
}

func (b *alertBook) add(a domain.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts[a.AlertID] = &a
	b.order = append(b.order, a.AlertID)
	for len(b.order) > b.limit {
		delete(b.alerts, b.order[0])
		b.order = b.order[1:]
	}
}

func (b *alertBook) transition(id string, fn func(a *domain.Alert)) (domain.Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	fn(a)
	return *a, nil
}

func (b *alertBook) list(status domain.AlertStatus) []domain.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Alert, 0, len(b.alerts))
	for _, id := range b.order {
		a := b.alerts[id]
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// raiseAlert records, persists and publishes a new active alert.
func (o *Orchestrator) raiseAlert(ctx context.Context, a domain.Alert) domain.Alert {
	a.AlertID = newID()
	a.Status = domain.AlertStatusActive
	a.CreatedAt = o.now()
	o.alerts.add(a)
	o.metrics.alerts.WithLabelValues(a.Type, a.Severity).Inc()

	if err := o.store.SaveAlert(context.WithoutCancel(ctx), a); err != nil {
		o.logger.Error("Failed to persist alert",
			slog.String("alert_id", a.AlertID),
			slog.Any("error", err),
		)
	}

	o.logger.Warn("Alert raised",
		slog.String("alert_id", a.AlertID),
		slog.String("type", a.Type),
		slog.String("severity", a.Severity),
		slog.String("job_id", a.JobID),
		slog.String("stage", a.Stage),
		slog.String("message", a.Message),
	)

	o.events.Publish(ctx, domain.Event{
		Type:      domain.EventAlertRaised,
		JobID:     a.JobID,
		Stage:     a.Stage,
		Timestamp: a.CreatedAt,
		Data: domain.Payload{
			"alert_id": a.AlertID,
			"type":     a.Type,
			"severity": a.Severity,
			"message":  a.Message,
		},
	})
	return a
}

// Alerts lists alerts, optionally filtered by status, oldest first.
func (o *Orchestrator) Alerts(status domain.AlertStatus) []domain.Alert {
	return o.alerts.list(status)
}

// AcknowledgeAlert marks an active alert as acknowledged.
func (o *Orchestrator) AcknowledgeAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	now := o.now()
	a, err := o.alerts.transition(alertID, func(a *domain.Alert) {
		if a.Status == domain.AlertStatusActive {
			a.Status = domain.AlertStatusAcknowledged
			a.AcknowledgedAt = &now
		}
	})
	if err != nil {
		return domain.Alert{}, err
	}
	o.persistAlert(ctx, a)
	return a, nil
}

// ResolveAlert marks an alert as resolved.
func (o *Orchestrator) ResolveAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	now := o.now()
	a, err := o.alerts.transition(alertID, func(a *domain.Alert) {
		if a.Status != domain.AlertStatusResolved {
			a.Status = domain.AlertStatusResolved
			a.ResolvedAt = &now
		}
	})
	if err != nil {
		return domain.Alert{}, err
	}
	o.persistAlert(ctx, a)
	return a, nil
}

func (o *Orchestrator) persistAlert(ctx context.Context, a domain.Alert) {
	if err := o.store.SaveAlert(ctx, a); err != nil {
		o.logger.Error("Failed to persist alert",
			slog.String("alert_id", a.AlertID),
			slog.Any("error", err),
		)
	}
}
