package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/repository"
)

var errStoreDown = errors.New("database is locked")

// fakeStore is an in-memory ProductStore with failure injection.
type fakeStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	writes   map[string]int

	// failSave is consulted before each SaveState with the 1-based write number for that product.
	failSave func(id string, n int) error
	getErr   error
	nextErr  error
	countErr error
	pingErr  error
	inserted int
}

func newFakeStore(products ...*domain.Product) *fakeStore {
	s := &fakeStore{
		products: make(map[string]*domain.Product),
		writes:   make(map[string]int),
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range products {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		}
		cp := *p
		s.products[p.ID] = &cp
	}
	return s
}

func (s *fakeStore) get(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.products[id]
}

func (s *fakeStore) writeCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SaveState(_ context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes[p.ID]++
	if s.failSave != nil {
		if err := s.failSave(p.ID, s.writes[p.ID]); err != nil {
			return err
		}
	}
	stored, ok := s.products[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.InventoryCreated = p.InventoryCreated
	stored.StockAdded = p.StockAdded
	stored.ListingCreated = p.ListingCreated
	stored.PipelineStatus = p.PipelineStatus
	if p.PipelineLog != nil {
		msg := *p.PipelineLog
		stored.PipelineLog = &msg
	} else {
		stored.PipelineLog = nil
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) NextEligible(_ context.Context, statuses []domain.PipelineStatus, exclude []string, limit int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextErr != nil {
		return nil, s.nextErr
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var out []domain.Product
	for _, p := range s.products {
		if skip[p.ID] {
			continue
		}
		for _, status := range statuses {
			if p.PipelineStatus == status {
				out = append(out, *p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountByStatus(_ context.Context) (map[domain.PipelineStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return nil, s.countErr
	}
	counts := make(map[domain.PipelineStatus]int64)
	for _, p := range s.products {
		counts[p.PipelineStatus]++
	}
	return counts, nil
}

func (s *fakeStore) CountStages(_ context.Context) (map[domain.Stage]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return nil, s.countErr
	}
	counts := make(map[domain.Stage]int64)
	for _, p := range s.products {
		for _, stage := range domain.Stages {
			if p.StageDone(stage) {
				counts[stage]++
			}
		}
	}
	return counts, nil
}

func (s *fakeStore) Ping(_ context.Context) error {
	return s.pingErr
}

func (s *fakeStore) ListErrors(_ context.Context, limit int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	var out []domain.Product
	for _, p := range s.products {
		if p.PipelineStatus == domain.PipelineStatusError {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) InsertIdle(_ context.Context, products []*domain.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range products {
		if _, exists := s.products[p.ID]; exists {
			continue
		}
		cp := *p
		s.products[p.ID] = &cp
		n++
	}
	s.inserted += int(n)
	return n, nil
}

// stageFunc backs one fake adapter.
type stageFunc func(ctx context.Context, p *domain.Product) error

type fakeAdapters struct {
	mu       sync.Mutex
	calls    map[domain.Stage]int
	quantity int

	inventory stageFunc
	stock     stageFunc
	listing   stageFunc
}

func newFakeAdapters() *fakeAdapters {
	return &fakeAdapters{calls: make(map[domain.Stage]int)}
}

func (f *fakeAdapters) count(stage domain.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func (f *fakeAdapters) run(ctx context.Context, stage domain.Stage, fn stageFunc, p *domain.Product) error {
	f.mu.Lock()
	f.calls[stage]++
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, p)
}

func (f *fakeAdapters) Create(ctx context.Context, p *domain.Product) error {
	return f.run(ctx, domain.StageInventory, f.inventory, p)
}

func (f *fakeAdapters) Supply(ctx context.Context, p *domain.Product, quantity int) error {
	f.mu.Lock()
	f.quantity = quantity
	f.mu.Unlock()
	return f.run(ctx, domain.StageStock, f.stock, p)
}

func (f *fakeAdapters) CreateListing(ctx context.Context, p *domain.Product) error {
	return f.run(ctx, domain.StageListing, f.listing, p)
}

func (f *fakeAdapters) adapters() Adapters {
	return Adapters{Inventory: f, Stock: f, Listing: f}
}

func idleProduct(id string) *domain.Product {
	return domain.NewProduct(id, "Product "+id, decimal.RequireFromString("19.99"), "https://img.example.com/"+id+".jpg")
}

func failFn(err error) stageFunc {
	return func(context.Context, *domain.Product) error { return err }
}
