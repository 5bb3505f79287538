package service

import (
	"context"
	"fmt"

	"github.com/timmy/conveyor/internal/domain"
)

// StatsService aggregates backlog counts for the dashboard.
type StatsService struct {
	store ProductStore
}

func NewStatsService(store ProductStore) *StatsService {
	return &StatsService{store: store}
}

// Compute returns per-status counts, per-stage completion counts and the success rate.
func (s *StatsService) Compute(ctx context.Context) (*domain.Stats, error) {
	byStatus, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count by status: %w", ErrStoreRead, err)
	}
	stages, err := s.store.CountStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count stages: %w", ErrStoreRead, err)
	}
	return domain.NewStats(byStatus, stages), nil
}
