package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultStreamBuffer = 64
	streamKeepAlive     = 15 * time.Second
)

// Stream handles GET /api/v1/events/stream
// Sends orchestrator events as server-sent events until the client leaves
func (h *EventHandler) Stream(c *gin.Context) {
	events, cancel := h.events.Subscribe(h.buffer)
	defer cancel()

	jobFilter := c.Query("job_id")

	h.logger.Info("Event stream opened",
		slog.String("ip", c.ClientIP()),
		slog.String("job_id", jobFilter),
	)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			if jobFilter != "" && e.JobID != jobFilter {
				return true
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		}
	})

	h.logger.Info("Event stream closed",
		slog.String("ip", c.ClientIP()),
	)
}
