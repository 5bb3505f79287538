package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/conveyor/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	monitor *service.HealthMonitor
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(monitor *service.HealthMonitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

// Health returns the liveness of the service itself
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Dependencies handles GET /api/v1/health. With ?cached=true it returns the last snapshot
// without probing.
func (h *HealthHandler) Dependencies(c *gin.Context) {
	if c.Query("cached") == "true" {
		c.JSON(http.StatusOK, h.monitor.Last())
		return
	}
	c.JSON(http.StatusOK, h.monitor.Check(c.Request.Context()))
}
