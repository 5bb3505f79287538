// Package integration defines the capabilities the conveyor needs from external systems.
// Each stage adapter returns nil on success and a descriptive error otherwise.
package integration

import (
	"context"

	"github.com/timmy/conveyor/internal/domain"
)

// InventoryCreator registers a product in the inventory system.
type InventoryCreator interface {
	Create(ctx context.Context, p *domain.Product) error
}

// StockSupplier posts a stock supply document for a product already in the inventory system.
type StockSupplier interface {
	Supply(ctx context.Context, p *domain.Product, quantity int) error
}

// ListingCreator publishes a product card on the sales marketplace.
type ListingCreator interface {
	CreateListing(ctx context.Context, p *domain.Product) error
}

// Prober issues a lightweight authenticated request against a dependency.
// It returns the HTTP status code of the response; err is set only for transport failures.
type Prober interface {
	Ping(ctx context.Context) (statusCode int, err error)
}
