package service

import (
	"context"
	"errors"

	"github.com/timmy/conveyor/internal/domain"
)

var (
	// ErrProductNotFound is returned for operations on an unknown product id.
	ErrProductNotFound = errors.New("product not found")

	// ErrStore marks a failed read or write against the item store during Advance.
	ErrStore = errors.New("item store failure")

	// ErrStoreRead marks a failed aggregate read (stats).
	ErrStoreRead = errors.New("item store read failed")
)

// ProductStore is the slice of the item store the conveyor needs.
// *repository.ProductRepository satisfies it.
type ProductStore interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	SaveState(ctx context.Context, p *domain.Product) error
	NextEligible(ctx context.Context, statuses []domain.PipelineStatus, exclude []string, limit int) ([]domain.Product, error)
	CountByStatus(ctx context.Context) (map[domain.PipelineStatus]int64, error)
	CountStages(ctx context.Context) (map[domain.Stage]int64, error)
	Ping(ctx context.Context) error
}
