package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/conveyor/internal/domain"
)

func TestStatsService_Compute(t *testing.T) {
	done := idleProduct("done")
	done.CompleteStage(domain.StageInventory)
	done.CompleteStage(domain.StageStock)
	done.CompleteStage(domain.StageListing)
	done.Finish()

	failed := idleProduct("failed")
	failed.CompleteStage(domain.StageInventory)
	failed.Fail("stock: HTTP 500")

	failed2 := idleProduct("failed2")
	failed2.Fail("inventory: timeout")

	store := newFakeStore(done, failed, failed2, idleProduct("idle"))
	stats, err := NewStatsService(store).Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Idle)
	assert.Equal(t, int64(1), stats.Done)
	assert.Equal(t, int64(2), stats.Error)
	assert.Equal(t, int64(0), stats.Processing)
	assert.InDelta(t, 1.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, int64(2), stats.StageCounts[domain.StageInventory])
	assert.Equal(t, int64(1), stats.StageCounts[domain.StageListing])
}

func TestStatsService_EmptyBacklog(t *testing.T) {
	stats, err := NewStatsService(newFakeStore()).Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestStatsService_StoreError(t *testing.T) {
	store := newFakeStore()
	store.countErr = errStoreDown

	_, err := NewStatsService(store).Compute(context.Background())
	assert.ErrorIs(t, err, ErrStoreRead)
	assert.ErrorIs(t, err, errStoreDown)
}
