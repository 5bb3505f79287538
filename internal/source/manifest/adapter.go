// Package manifest reads discovery output exported as JSON Lines.
package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timmy/conveyor/internal/source"
)

// Line is one record of the manifest file.
type Line struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	ImageURL     string          `json:"image_url"`
	DiscoveredAt string          `json:"discovered_at"`
}

// Adapter implements source.Source over a manifest.jsonl file.
type Adapter struct {
	path    string
	items   []source.Item
	skipped int
	loaded  bool
}

// NewAdapter creates a new manifest adapter.
// Parameters:
//   - path: path to the JSONL manifest.
//
// Returns:
//   - *Adapter: adapter that loads the file on first fetch.
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

func (a *Adapter) GetSourceID() string {
	return "manifest:" + a.path
}

// FetchBatch returns items in file order, deduplicated by id (first occurrence wins).
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(a.items) {
		return []source.Item{}, "", nil
	}
	if limit <= 0 {
		limit = len(a.items)
	}

	end := start + limit
	if end > len(a.items) {
		end = len(a.items)
	}
	next := ""
	if end < len(a.items) {
		next = strconv.Itoa(end)
	}
	return a.items[start:end], next, nil
}

// Skipped returns how many lines were malformed or incomplete.
func (a *Adapter) Skipped() int {
	return a.skipped
}

// Count returns the number of valid items in the manifest.
func (a *Adapter) Count() (int, error) {
	if err := a.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(a.items), nil
}

func (a *Adapter) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	if err := a.load(); err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	a.loaded = true
	return nil
}

func (a *Adapter) load() error {
	file, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer file.Close()

	seen := make(map[string]struct{})
	a.items = []source.Item{}
	a.skipped = 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			a.skipped++
			continue
		}
		item, ok := toItem(line)
		if !ok {
			a.skipped++
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		a.items = append(a.items, item)
	}
	return scanner.Err()
}

func toItem(line Line) (source.Item, bool) {
	id := strings.TrimSpace(line.ID)
	name := strings.TrimSpace(line.Name)
	if id == "" || name == "" || line.Price.IsNegative() {
		return source.Item{}, false
	}

	item := source.Item{
		ID:       id,
		Name:     name,
		Price:    line.Price,
		ImageURL: strings.TrimSpace(line.ImageURL),
	}
	if line.DiscoveredAt != "" {
		if ts, err := time.Parse(time.RFC3339, line.DiscoveredAt); err == nil {
			item.DiscoveredAt = ts.UTC()
		}
	}
	return item, true
}
