package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/conveyor/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no product has the requested id.
var ErrNotFound = errors.New("product not found")

// ProductRepository is the item store: it owns persistence of products and their pipeline state.
type ProductRepository struct {
	db *gorm.DB
}

// ListFilter narrows a product listing.
type ListFilter struct {
	Status domain.PipelineStatus // empty means all statuses
	Query  string                // case-insensitive match on id or name
	Limit  int
	Offset int
}

// NewProductRepository creates a new ProductRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ProductRepository: repository instance bound to db.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// InsertIdle stores newly discovered products. Existing ids are left untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - products: discovered products; status and flags are reset to a fresh idle state.
//
// Returns:
//   - int64: number of rows actually inserted.
//   - error: non-nil if the insert fails.
func (r *ProductRepository) InsertIdle(ctx context.Context, products []*domain.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}
	for _, p := range products {
		p.PipelineStatus = domain.PipelineStatusIdle
		p.PipelineLog = nil
		p.InventoryCreated = false
		p.StockAdded = false
		p.ListingCreated = false
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&products)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert products: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetByID retrieves a product by its marketplace id.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return &product, nil
}

// SaveState persists the pipeline columns of p after checking its invariants.
// Name, price and image are never written here.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - p: product whose status, flags and log are written.
//
// Returns:
//   - error: domain.ErrInvariantViolation, ErrNotFound, or a wrapped database error.
func (r *ProductRepository) SaveState(ctx context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"inventory_created": p.InventoryCreated,
			"stock_added":       p.StockAdded,
			"listing_created":   p.ListingCreated,
			"pipeline_status":   p.PipelineStatus,
			"pipeline_log":      p.PipelineLog,
			"updated_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	p.UpdatedAt = now
	return nil
}

// NextEligible returns the oldest products in one of the given statuses, skipping excluded ids.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - statuses: statuses that qualify for processing.
//   - exclude: ids currently in flight.
//   - limit: maximum number of records to return.
//
// Returns:
//   - []domain.Product: candidates ordered by created_at, then id.
//   - error: non-nil if the query fails.
func (r *ProductRepository) NextEligible(ctx context.Context, statuses []domain.PipelineStatus, exclude []string, limit int) ([]domain.Product, error) {
	if len(statuses) == 0 {
		return []domain.Product{}, nil
	}
	query := r.db.WithContext(ctx).Where("pipeline_status IN ?", statuses)
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}

	var products []domain.Product
	if err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to select eligible products: %w", err)
	}
	return products, nil
}

// CountByStatus counts products per pipeline status in a single query.
func (r *ProductRepository) CountByStatus(ctx context.Context) (map[domain.PipelineStatus]int64, error) {
	var rows []struct {
		PipelineStatus domain.PipelineStatus
		Count          int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Select("pipeline_status, COUNT(*) AS count").
		Group("pipeline_status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count products by status: %w", err)
	}

	counts := make(map[domain.PipelineStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.PipelineStatus] = row.Count
	}
	return counts, nil
}

// CountStages counts products whose stage flag is set, per stage.
func (r *ProductRepository) CountStages(ctx context.Context) (map[domain.Stage]int64, error) {
	var row struct {
		Inventory int64
		Stock     int64
		Listing   int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.Product{}).
		Select(`COALESCE(SUM(CASE WHEN inventory_created THEN 1 ELSE 0 END), 0) AS inventory,
			COALESCE(SUM(CASE WHEN stock_added THEN 1 ELSE 0 END), 0) AS stock,
			COALESCE(SUM(CASE WHEN listing_created THEN 1 ELSE 0 END), 0) AS listing`).
		Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to count stage completions: %w", err)
	}

	return map[domain.Stage]int64{
		domain.StageInventory: row.Inventory,
		domain.StageStock:     row.Stock,
		domain.StageListing:   row.Listing,
	}, nil
}

// List returns a page of products, newest first, plus the total matching count.
func (r *ProductRepository) List(ctx context.Context, filter ListFilter) ([]domain.Product, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Product{}).Session(&gorm.Session{})
	if filter.Status != "" {
		query = query.Where("pipeline_status = ?", filter.Status)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(id) LIKE ? OR LOWER(name) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var products []domain.Product
	if err := query.
		Order("created_at DESC").
		Order("id ASC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// ListErrors returns the most recently failed products.
func (r *ProductRepository) ListErrors(ctx context.Context, limit int) ([]domain.Product, error) {
	var products []domain.Product
	if err := r.db.WithContext(ctx).
		Where("pipeline_status = ?", domain.PipelineStatusError).
		Order("updated_at DESC").
		Limit(limit).
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed products: %w", err)
	}
	return products, nil
}

// ResetProcessing releases products left in processing by a crash.
// Rows whose three stages already completed become done; the rest return to idle with
// their flags kept, so the next run resumes from the first unfinished stage.
func (r *ProductRepository) ResetProcessing(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var reset int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		finished := tx.Model(&domain.Product{}).
			Where("pipeline_status = ?", domain.PipelineStatusProcessing).
			Where("inventory_created AND stock_added AND listing_created").
			Updates(map[string]interface{}{
				"pipeline_status": domain.PipelineStatusDone,
				"pipeline_log":    nil,
				"updated_at":      now,
			})
		if finished.Error != nil {
			return finished.Error
		}

		pending := tx.Model(&domain.Product{}).
			Where("pipeline_status = ?", domain.PipelineStatusProcessing).
			Updates(map[string]interface{}{
				"pipeline_status": domain.PipelineStatusIdle,
				"updated_at":      now,
			})
		if pending.Error != nil {
			return pending.Error
		}
		reset = finished.RowsAffected + pending.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing products: %w", err)
	}
	return reset, nil
}

// Ping checks that the database answers.
func (r *ProductRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}
