package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/conveyor/internal/domain"
)

func newTestRepo(t *testing.T) *ProductRepository {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return NewProductRepository(db)
}

func fakeProducts(n int, start time.Time) []*domain.Product {
	faker := gofakeit.New(42)
	products := make([]*domain.Product, 0, n)
	for i := 0; i < n; i++ {
		p := domain.NewProduct(
			"sku-"+strconv.Itoa(i),
			faker.ProductName(),
			decimal.NewFromFloat(faker.Price(1, 500)).Round(2),
			faker.URL(),
		)
		p.CreatedAt = start.Add(time.Duration(i) * time.Minute)
		products = append(products, p)
	}
	return products
}

func TestInsertIdle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	products := fakeProducts(3, start)
	products[1].PipelineStatus = domain.PipelineStatusDone
	products[1].ListingCreated = true

	inserted, err := repo.InsertIdle(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	got, err := repo.GetByID(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusIdle, got.PipelineStatus)
	assert.False(t, got.ListingCreated)
	assert.Nil(t, got.PipelineLog)
	assert.True(t, products[1].Price.Equal(got.Price))

	t.Run("existing rows are never overwritten", func(t *testing.T) {
		got.MarkProcessing()
		got.CompleteStage(domain.StageInventory)
		require.NoError(t, repo.SaveState(ctx, got))

		again := fakeProducts(4, start)
		inserted, err := repo.InsertIdle(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, int64(1), inserted)

		kept, err := repo.GetByID(ctx, "sku-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusProcessing, kept.PipelineStatus)
		assert.True(t, kept.InventoryCreated)
	})
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.InsertIdle(ctx, fakeProducts(1, time.Now().UTC()))
	require.NoError(t, err)

	p, err := repo.GetByID(ctx, "sku-0")
	require.NoError(t, err)
	before := p.UpdatedAt

	t.Run("rejects invariant violations", func(t *testing.T) {
		bad := *p
		bad.PipelineStatus = domain.PipelineStatusDone
		err := repo.SaveState(ctx, &bad)
		assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

		bad = *p
		bad.PipelineStatus = domain.PipelineStatusError
		bad.PipelineLog = nil
		err = repo.SaveState(ctx, &bad)
		assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
	})

	t.Run("writes status flags and log", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		p.MarkProcessing()
		p.CompleteStage(domain.StageInventory)
		p.Fail("stock: supply rejected")
		require.NoError(t, repo.SaveState(ctx, p))

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStatusError, got.PipelineStatus)
		assert.True(t, got.InventoryCreated)
		assert.False(t, got.StockAdded)
		assert.Equal(t, "stock: supply rejected", got.LogText())
		assert.True(t, got.UpdatedAt.After(before))
	})

	t.Run("unknown id", func(t *testing.T) {
		ghost := domain.NewProduct("ghost", "Ghost", decimal.Zero, "")
		err := repo.SaveState(ctx, ghost)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestNextEligible(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.InsertIdle(ctx, fakeProducts(5, start))
	require.NoError(t, err)

	failed, err := repo.GetByID(ctx, "sku-0")
	require.NoError(t, err)
	failed.Fail("inventory: timeout")
	require.NoError(t, repo.SaveState(ctx, failed))

	idleOnly := []domain.PipelineStatus{domain.PipelineStatusIdle}

	got, err := repo.NextEligible(ctx, idleOnly, nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sku-1", got[0].ID)
	assert.Equal(t, "sku-2", got[1].ID)

	got, err = repo.NextEligible(ctx, idleOnly, []string{"sku-1", "sku-2"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sku-3", got[0].ID)

	withErrors := []domain.PipelineStatus{domain.PipelineStatusIdle, domain.PipelineStatusError}
	got, err = repo.NextEligible(ctx, withErrors, nil, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sku-0", got[0].ID)

	got, err = repo.NextEligible(ctx, nil, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stages, err := repo.CountStages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stages[domain.StageInventory])

	_, err = repo.InsertIdle(ctx, fakeProducts(4, time.Now().UTC()))
	require.NoError(t, err)

	done, _ := repo.GetByID(ctx, "sku-0")
	for _, stage := range domain.Stages {
		done.CompleteStage(stage)
	}
	done.Finish()
	require.NoError(t, repo.SaveState(ctx, done))

	failed, _ := repo.GetByID(ctx, "sku-1")
	failed.CompleteStage(domain.StageInventory)
	failed.Fail("stock: rejected")
	require.NoError(t, repo.SaveState(ctx, failed))

	byStatus, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byStatus[domain.PipelineStatusIdle])
	assert.Equal(t, int64(1), byStatus[domain.PipelineStatusDone])
	assert.Equal(t, int64(1), byStatus[domain.PipelineStatusError])
	assert.Equal(t, int64(0), byStatus[domain.PipelineStatusProcessing])

	stages, err = repo.CountStages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stages[domain.StageInventory])
	assert.Equal(t, int64(1), stages[domain.StageStock])
	assert.Equal(t, int64(1), stages[domain.StageListing])
}

func TestListAndErrors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	products := fakeProducts(6, start)
	products[4].Name = "Blue Ceramic Mug"
	_, err := repo.InsertIdle(ctx, products)
	require.NoError(t, err)

	for _, id := range []string{"sku-2", "sku-3"} {
		p, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		p.Fail(id + " failed")
		require.NoError(t, repo.SaveState(ctx, p))
		time.Sleep(5 * time.Millisecond)
	}

	page, total, err := repo.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	require.Len(t, page, 2)
	assert.Equal(t, "sku-5", page[0].ID)

	page, total, err = repo.List(ctx, ListFilter{Status: domain.PipelineStatusError})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, page, 2)

	page, total, err = repo.List(ctx, ListFilter{Query: "ceramic"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, page, 1)
	assert.Equal(t, "sku-4", page[0].ID)

	failed, err := repo.ListErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "sku-3", failed[0].ID)
	assert.Equal(t, "sku-3 failed", failed[0].LogText())
}

func TestResetProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, err := repo.InsertIdle(ctx, fakeProducts(3, time.Now().UTC()))
	require.NoError(t, err)

	partial, _ := repo.GetByID(ctx, "sku-0")
	partial.MarkProcessing()
	partial.CompleteStage(domain.StageInventory)
	require.NoError(t, repo.SaveState(ctx, partial))

	finished, _ := repo.GetByID(ctx, "sku-1")
	finished.MarkProcessing()
	for _, stage := range domain.Stages {
		finished.CompleteStage(stage)
	}
	require.NoError(t, repo.SaveState(ctx, finished))

	n, err := repo.ResetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, _ := repo.GetByID(ctx, "sku-0")
	assert.Equal(t, domain.PipelineStatusIdle, got.PipelineStatus)
	assert.True(t, got.InventoryCreated)
	assert.NoError(t, got.Validate())

	got, _ = repo.GetByID(ctx, "sku-1")
	assert.Equal(t, domain.PipelineStatusDone, got.PipelineStatus)
	assert.NoError(t, got.Validate())
}

func newMockRepo(t *testing.T) (*ProductRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return NewProductRepository(db), mock
}

func TestPing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err := repo.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	repo, mock := newMockRepo(t)
	dbErr := errors.New("server closed the connection")

	mock.ExpectQuery(`SELECT \* FROM "products" WHERE id = \$1`).WillReturnError(dbErr)
	_, err := repo.GetByID(context.Background(), "sku-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, errors.Is(err, ErrNotFound))

	mock.ExpectExec(`UPDATE "products" SET`).WillReturnError(dbErr)
	p := domain.NewProduct("sku-1", "Mug", decimal.NewFromInt(10), "")
	p.MarkProcessing()
	err = repo.SaveState(context.Background(), p)
	assert.ErrorIs(t, err, dbErr)

	mock.ExpectQuery(`SELECT pipeline_status, COUNT\(\*\) AS count FROM "products" GROUP BY`).WillReturnError(dbErr)
	_, err = repo.CountByStatus(context.Background())
	assert.ErrorIs(t, err, dbErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}
