package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// ListAlerts handles GET /api/v1/alerts
// Lists alerts, optionally filtered by ?status=active|acknowledged|resolved
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	status := domain.AlertStatus(c.Query("status"))
	switch status {
	case "", domain.AlertStatusActive, domain.AlertStatusAcknowledged, domain.AlertStatusResolved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of active, acknowledged, resolved",
		})
		return
	}

	alerts := h.orchestrator.Alerts(status)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AcknowledgeAlert handles POST /api/v1/alerts/:alert_id/acknowledge
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	h.transition(c, "acknowledge", h.orchestrator.AcknowledgeAlert)
}

// ResolveAlert handles POST /api/v1/alerts/:alert_id/resolve
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	h.transition(c, "resolve", h.orchestrator.ResolveAlert)
}

func (h *AlertHandler) transition(c *gin.Context, action string, fn func(ctx context.Context, alertID string) (domain.Alert, error)) {
	alertID := c.Param("alert_id")

	h.logger.Info("Alert transition requested",
		slog.String("alert_id", alertID),
		slog.String("action", action),
	)

	alert, err := fn(c.Request.Context(), alertID)
	if errors.Is(err, domain.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Alert not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to update alert", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update alert",
		})
		return
	}

	c.JSON(http.StatusOK, alert)
}
