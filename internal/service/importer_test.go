package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/source"
	"github.com/timmy/conveyor/internal/source/manifest"
)

// sliceSource serves fixed items in pages.
type sliceSource struct {
	items   []source.Item
	failAt  string
	fetches int
}

func (s *sliceSource) GetSourceID() string { return "slice" }

func (s *sliceSource) FetchBatch(_ context.Context, cursor string, limit int) ([]source.Item, string, error) {
	s.fetches++
	if s.failAt != "" && cursor == s.failAt {
		return nil, "", errors.New("feed unavailable")
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + limit
	if end >= len(s.items) {
		return s.items[start:], "", nil
	}
	return s.items[start:end], strconv.Itoa(end), nil
}

func fakeItems(n int) []source.Item {
	faker := gofakeit.New(7)
	items := make([]source.Item, n)
	for i := range items {
		items[i] = source.Item{
			ID:       "mp-" + strconv.Itoa(i),
			Name:     faker.ProductName(),
			Price:    decimal.NewFromFloat(faker.Price(1, 500)).Round(2),
			ImageURL: faker.URL(),
		}
	}
	return items
}

func TestImportFromSource(t *testing.T) {
	existing := idleProduct("mp-1")
	existing.CompleteStage(domain.StageInventory)
	existing.Fail("stock: timeout")
	store := newFakeStore(existing)

	src := &sliceSource{items: fakeItems(7)}
	stats, err := NewImportService(store, 3).ImportFromSource(context.Background(), src, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.Fetched)
	assert.Equal(t, int64(6), stats.Inserted)
	assert.Equal(t, int64(1), stats.Existing)
	assert.Equal(t, 3, src.fetches)

	p := store.get("mp-0")
	assert.Equal(t, domain.PipelineStatusIdle, p.PipelineStatus)
	assert.False(t, p.InventoryCreated)

	kept := store.get("mp-1")
	assert.Equal(t, domain.PipelineStatusError, kept.PipelineStatus, "existing rows are not overwritten")
	assert.True(t, kept.InventoryCreated)
}

func TestImportFromSource_Limit(t *testing.T) {
	store := newFakeStore()
	stats, err := NewImportService(store, 4).ImportFromSource(context.Background(), &sliceSource{items: fakeItems(10)}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Fetched)
	assert.Equal(t, 5, store.inserted)
}

func TestImportFromSource_FetchError(t *testing.T) {
	store := newFakeStore()
	src := &sliceSource{items: fakeItems(6), failAt: "2"}

	stats, err := NewImportService(store, 2).ImportFromSource(context.Background(), src, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")
	assert.Equal(t, int64(2), stats.Inserted, "batches before the failure are kept")
}

func TestImportFromSource_Manifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	content := `{"id":"b","name":"Mug","price":"9.50","discovered_at":"2024-03-01T10:00:00Z"}
{"id":"a","name":"Lamp","price":"25","discovered_at":"2024-02-01T10:00:00Z"}
not json
{"id":"a","name":"Duplicate","price":"1"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := newFakeStore()
	stats, err := NewImportService(store, 10).ImportFromSource(context.Background(), manifest.NewAdapter(path), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Inserted)

	next, err := store.NextEligible(context.Background(), []domain.PipelineStatus{domain.PipelineStatusIdle}, nil, 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].ID, "discovery time drives backlog order")
	assert.Equal(t, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), next[0].CreatedAt)
}
