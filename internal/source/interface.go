package source

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Item is one product reported by the discovery component.
type Item struct {
	ID           string // marketplace id, becomes the product primary key
	Name         string
	Price        decimal.Decimal
	ImageURL     string
	DiscoveredAt time.Time // zero when the feed does not carry it
}

// Source yields discovered products in pages.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of discovered items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}
