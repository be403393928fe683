package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator"
)

// Health handles GET /api/v1/pipeline/health
// Reports overall, per-service and alert-derived health
func (h *PipelineHandler) Health(c *gin.Context) {
	health := h.orchestrator.PipelineHealth()

	status := http.StatusOK
	if health.Status == orchestrator.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// Metrics handles GET /api/v1/pipeline/metrics
// Returns throughput counters and queue sizes
func (h *PipelineHandler) Metrics(c *gin.Context) {
	m := h.orchestrator.ProcessingMetrics()

	var successRate float64
	if m.TotalProcessed > 0 {
		successRate = float64(m.SuccessCount) / float64(m.TotalProcessed)
	}

	c.JSON(http.StatusOK, gin.H{
		"total_processed":                 m.TotalProcessed,
		"success_count":                   m.SuccessCount,
		"failure_count":                   m.FailureCount,
		"success_rate":                    successRate,
		"average_processing_time_seconds": m.AverageProcessingTime.Seconds(),
		"active_jobs":                     m.ActiveJobs,
		"queued_jobs":                     m.QueuedJobs,
	})
}
