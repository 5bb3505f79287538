package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

func TestFetchBatch(t *testing.T) {
	path := writeManifest(t,
		`{"id":"1","name":"Mug","price":"12.50","image_url":"https://img/1.jpg","discovered_at":"2026-01-02T10:00:00Z"}`,
		`{"id":"2","name":"Plate","price":7}`,
		``,
		`not json`,
		`{"id":"","name":"No id","price":1}`,
		`{"id":"3","name":"Bowl","price":-1}`,
		`{"id":"1","name":"Duplicate","price":1}`,
		`{"id":"4","name":"Spoon","price":"0.99"}`,
	)
	a := NewAdapter(path)
	ctx := context.Background()

	items, next, err := a.FetchBatch(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", next)
	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, "Mug", items[0].Name)
	assert.Equal(t, "12.5", items[0].Price.String())
	assert.Equal(t, 2026, items[0].DiscoveredAt.Year())
	assert.True(t, items[1].DiscoveredAt.IsZero())

	items, next, err = a.FetchBatch(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "4", items[0].ID)
	assert.Empty(t, next)

	assert.Equal(t, 3, a.Skipped())
	count, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFetchBatchErrors(t *testing.T) {
	_, _, err := NewAdapter(filepath.Join(t.TempDir(), "missing.jsonl")).FetchBatch(context.Background(), "", 10)
	assert.Error(t, err)

	a := NewAdapter(writeManifest(t, `{"id":"1","name":"Mug","price":1}`))
	_, _, err = a.FetchBatch(context.Background(), "abc", 10)
	assert.Error(t, err)

	items, next, err := a.FetchBatch(context.Background(), "5", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}
