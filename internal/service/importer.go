package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/source"
)

// ProductInserter stores newly discovered products without touching existing rows.
type ProductInserter interface {
	InsertIdle(ctx context.Context, products []*domain.Product) (int64, error)
}

// ImportService loads discovered products from a source into the backlog as idle items.
type ImportService struct {
	store     ProductInserter
	batchSize int
}

// ImportStats holds statistics for an import run
type ImportStats struct {
	Fetched   int64
	Inserted  int64
	Existing  int64
	StartTime time.Time
	EndTime   time.Time
}

func NewImportService(store ProductInserter, batchSize int) *ImportService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ImportService{store: store, batchSize: batchSize}
}

// ImportFromSource pages through src and inserts up to limit items. A limit of 0 means no limit.
// Items whose id already exists are counted as Existing and left unchanged.
func (s *ImportService) ImportFromSource(ctx context.Context, src source.Source, limit int) (*ImportStats, error) {
	stats := &ImportStats{StartTime: time.Now()}
	ctx = logger.SetComponent(ctx, "importer")

	logger.FromContext(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
	}).Info("Starting import")

	cursor := ""
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - int(stats.Fetched)
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			stats.EndTime = time.Now()
			return stats, fmt.Errorf("failed to fetch batch at cursor %q: %w", cursor, err)
		}
		if len(items) == 0 {
			break
		}
		stats.Fetched += int64(len(items))

		products := make([]*domain.Product, 0, len(items))
		for _, item := range items {
			p := domain.NewProduct(item.ID, item.Name, item.Price, item.ImageURL)
			if !item.DiscoveredAt.IsZero() {
				p.CreatedAt = item.DiscoveredAt
			}
			products = append(products, p)
		}

		inserted, err := s.store.InsertIdle(ctx, products)
		if err != nil {
			stats.EndTime = time.Now()
			return stats, fmt.Errorf("%w: insert batch: %w", ErrStore, err)
		}
		stats.Inserted += inserted
		stats.Existing += int64(len(products)) - inserted

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	stats.EndTime = time.Now()
	logger.FromContext(ctx).WithFields(logger.Fields{
		"fetched":  stats.Fetched,
		"inserted": stats.Inserted,
		"existing": stats.Existing,
		"duration": stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Import completed")

	return stats, ctx.Err()
}
