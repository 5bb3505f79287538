package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/service"
)

// ConveyorHandler exposes the run controller and the diagnostics advisor.
type ConveyorHandler struct {
	runner  *service.Runner
	advisor *service.AdvisorService
}

// NewConveyorHandler creates a new conveyor handler.
// Parameters:
//   - runner: background run controller.
//   - advisor: diagnostics advisor; may be nil.
//
// Returns:
//   - *ConveyorHandler: initialized handler.
func NewConveyorHandler(runner *service.Runner, advisor *service.AdvisorService) *ConveyorHandler {
	return &ConveyorHandler{runner: runner, advisor: advisor}
}

// Start handles POST /api/v1/conveyor/start.
func (h *ConveyorHandler) Start(c *gin.Context) {
	started := h.runner.Start()
	if started {
		logger.CtxInfo(c.Request.Context(), "Conveyor started by operator: client_ip=%s", c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{
		"started": started,
		"status":  h.runner.Status(),
	})
}

// Stop handles POST /api/v1/conveyor/stop.
func (h *ConveyorHandler) Stop(c *gin.Context) {
	stopped := h.runner.Stop()
	if stopped {
		logger.CtxInfo(c.Request.Context(), "Conveyor stopped by operator: client_ip=%s", c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{
		"stopped": stopped,
		"status":  h.runner.Status(),
	})
}

// Status handles GET /api/v1/conveyor/status.
func (h *ConveyorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

// StreamLogs handles GET /api/v1/conveyor/logs/stream as server-sent events.
// Buffered lines are replayed first, then new lines are pushed until the client disconnects.
func (h *ConveyorHandler) StreamLogs(c *gin.Context) {
	backlog, lines, cancel := h.runner.Logs().SubscribeWithSnapshot()
	defer cancel()

	c.Header("Content-Type", "text/event-stream;charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for _, line := range backlog {
		c.SSEvent("log", line)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.SSEvent("log", line)
			c.Writer.Flush()
		}
	}
}

// Advice handles POST /api/v1/conveyor/advice.
func (h *ConveyorHandler) Advice(c *gin.Context) {
	if h.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Advisor is not configured"})
		return
	}

	advice, err := h.advisor.Advise(c.Request.Context())
	if err != nil {
		logger.CtxError(c.Request.Context(), "Advice failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build advice: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, advice)
}
