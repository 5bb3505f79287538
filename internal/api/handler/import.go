package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/service"
	"github.com/timmy/conveyor/internal/source"
)

// SourceFactory opens a fresh discovery source for one import run.
type SourceFactory func() source.Source

// ImportHandler loads discovery output into the backlog.
type ImportHandler struct {
	importer *service.ImportService
	sources  map[string]SourceFactory

	// Import job state
	mu            sync.RWMutex
	isRunning     bool
	lastStats     *service.ImportStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - importer: import service instance.
//   - sources: source factories keyed by name.
//
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(importer *service.ImportService, sources map[string]SourceFactory) *ImportHandler {
	return &ImportHandler{importer: importer, sources: sources}
}

// ImportRequest represents the import API request.
type ImportRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"min=0,max=100000"`
}

// ImportStatusResponse represents the import status.
type ImportStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	LastStats     *service.ImportStats `json:"last_stats,omitempty"`
}

// TriggerImport handles POST /api/v1/products/import.
func (h *ImportHandler) TriggerImport(c *gin.Context) {
	ctx := c.Request.Context()

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	open, ok := h.sources[req.Source]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Import is already running"})
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting import: source=%s, limit=%d, client_ip=%s", req.Source, req.Limit, c.ClientIP())

	// The import outlives a client that disconnects mid-request.
	stats, err := h.importer.ImportFromSource(context.WithoutCancel(ctx), open(), req.Limit)

	h.mu.Lock()
	h.isRunning = false
	h.lastStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.CtxError(ctx, "Import failed: source=%s, error=%v", req.Source, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stats": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Import completed", "stats": stats})
}

// GetImportStatus handles GET /api/v1/products/import/status.
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := ImportStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		LastStats:     h.lastStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
