package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/repository"
	"github.com/timmy/conveyor/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ProductReader is the read side of the item store used by the dashboard.
type ProductReader interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context, filter repository.ListFilter) ([]domain.Product, int64, error)
	ListErrors(ctx context.Context, limit int) ([]domain.Product, error)
}

// ProductHandler handles product listing and operator force-sync.
type ProductHandler struct {
	products ProductReader
	conveyor *service.Conveyor
}

// NewProductHandler creates a new product handler.
// Parameters:
//   - products: item store reader.
//   - conveyor: orchestrator used for force-sync.
//
// Returns:
//   - *ProductHandler: initialized handler.
func NewProductHandler(products ProductReader, conveyor *service.Conveyor) *ProductHandler {
	return &ProductHandler{products: products, conveyor: conveyor}
}

// ProductListResponse is one page of products.
type ProductListResponse struct {
	Products []domain.Product `json:"products"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListProducts handles GET /api/v1/products?status=&q=&limit=&offset=.
func (h *ProductHandler) ListProducts(c *gin.Context) {
	filter := repository.ListFilter{
		Query:  c.Query("q"),
		Limit:  queryInt(c, "limit", defaultPageSize),
		Offset: queryInt(c, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if status := c.Query("status"); status != "" {
		filter.Status = domain.PipelineStatus(status)
		if !filter.Status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status: " + status})
			return
		}
	}

	products, total, err := h.products.List(c.Request.Context(), filter)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list products: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products: " + err.Error()})
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	c.JSON(http.StatusOK, ProductListResponse{
		Products: products,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// GetProduct handles GET /api/v1/products/:id.
func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.products.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load product: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, product)
}

// ListErrors handles GET /api/v1/errors?limit=.
func (h *ProductHandler) ListErrors(c *gin.Context) {
	limit := queryInt(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	products, err := h.products.ListErrors(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list errors: " + err.Error()})
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// SyncProduct handles POST /api/v1/products/:id/sync.
// Responds 200 when the product reached done, 422 with the reason when a stage failed,
// 409 when the product is already being advanced, 404 for an unknown id and 500 for store errors.
func (h *ProductHandler) SyncProduct(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	outcome, err := h.conveyor.ForceSync(ctx, id)
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	case err != nil:
		logger.CtxError(ctx, "Force-sync failed: product_id=%s, error=%v", id, err)
		body := gin.H{"error": err.Error()}
		if outcome != nil {
			body["outcome"] = outcome
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	switch outcome.Status {
	case service.OutcomeDone:
		c.JSON(http.StatusOK, outcome)
	case service.OutcomeInFlight:
		c.JSON(http.StatusConflict, gin.H{"error": "Product is already being processed", "outcome": outcome})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": outcome.Reason, "outcome": outcome})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
