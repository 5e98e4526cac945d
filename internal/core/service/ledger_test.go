package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

func setupLedger(items ...domain.StockItem) (*Ledger, *mockStockRepo, *recordingPublisher) {
	repo := newMockStockRepo(items...)
	publisher := &recordingPublisher{}
	return NewLedger(repo, publisher, &recordingMetrics{}, newFixedClock(), 5, nullLogger()), repo, publisher
}

func TestDecrease_Success(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})

	item, err := ledger.Decrease(context.Background(), "9090", 10)

	require.NoError(t, err)
	assert.Equal(t, 40, item.Quantity)
	assert.Equal(t, int64(1), item.Version)
	assert.Equal(t, 40, repo.quantity("9090"))

	events := publisher.ofKind(domain.EventStockChanged)
	require.Len(t, events, 1)
	assert.Equal(t, "9090", events[0].Stock.SKU)
	assert.Equal(t, 40, events[0].Stock.NewQuantity)
	assert.Equal(t, int64(1), events[0].Stock.Version)
}

func TestDecrease_InsufficientStock(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 5})

	_, err := ledger.Decrease(context.Background(), "9090", 6)

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, repo.quantity("9090"))
	assert.Empty(t, publisher.events)
}

func TestDecrease_ExactQuantityLeavesZero(t *testing.T) {
	ledger, _, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 5})

	item, err := ledger.Decrease(context.Background(), "9090", 5)

	require.NoError(t, err)
	assert.Equal(t, 0, item.Quantity)
}

func TestDecrease_ItemNotFound(t *testing.T) {
	ledger, _, publisher := setupLedger()

	_, err := ledger.Decrease(context.Background(), "missing", 1)

	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.Empty(t, publisher.events)
}

func TestDecrease_RejectsNonPositiveAmount(t *testing.T) {
	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 5})

	_, err := ledger.Decrease(context.Background(), "9090", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = ledger.Decrease(context.Background(), "9090", -3)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, 5, repo.quantity("9090"))
}

func TestSetQuantity(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 5, Version: 3})

	t.Run("Success", func(t *testing.T) {
		item, err := ledger.SetQuantity(context.Background(), "9090", 80)

		require.NoError(t, err)
		assert.Equal(t, 80, item.Quantity)
		assert.Equal(t, int64(4), item.Version)
		require.Len(t, publisher.ofKind(domain.EventStockChanged), 1)
	})

	t.Run("Fail on negative quantity", func(t *testing.T) {
		_, err := ledger.SetQuantity(context.Background(), "9090", -1)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
		assert.Equal(t, 80, repo.quantity("9090"))
	})

	t.Run("Fail on unknown sku", func(t *testing.T) {
		_, err := ledger.SetQuantity(context.Background(), "missing", 1)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})
}

func TestMutate_RetriesOnWriteConflict(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})
	repo.conflicts = 2

	item, err := ledger.Decrease(context.Background(), "9090", 10)

	require.NoError(t, err)
	assert.Equal(t, 40, item.Quantity)
	assert.Equal(t, 3, repo.updates)
	assert.Len(t, publisher.events, 1)
}

func TestMutate_SurfacesWriteConflictAfterBound(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})
	repo.conflicts = 100

	_, err := ledger.Decrease(context.Background(), "9090", 10)

	assert.ErrorIs(t, err, domain.ErrWriteConflict)
	assert.Equal(t, 5, repo.updates)
	assert.Equal(t, 50, repo.quantity("9090"))
	assert.Empty(t, publisher.events)
}

func TestMutate_PropagatesStorageError(t *testing.T) {
	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})
	repo.failWith = errStorageDown

	_, err := ledger.Decrease(context.Background(), "9090", 1)

	assert.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, 1, repo.updates)
}

func TestRestore_AddsToCurrentQuantity(t *testing.T) {
	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 7})
	repo.conflicts = 1

	item, err := ledger.Restore(context.Background(), "9090", 3)

	require.NoError(t, err)
	assert.Equal(t, 10, item.Quantity)
}

func TestDecrease_ConcurrentNeverNegative(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "item", Quantity: initialStock})
	ledger.attempts = 100

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Decrease(context.Background(), "item", 1); err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, 0, repo.quantity("item"))
}

func TestDecreaseAndRestore_ConcurrentLoseNoUpdates(t *testing.T) {
	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "item", Quantity: 100})
	ledger.attempts = 100

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := ledger.Decrease(context.Background(), "item", 2)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := ledger.Restore(context.Background(), "item", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100-60+30, repo.quantity("item"))
}

func TestMutate_CountsCommittedUpdates(t *testing.T) {
	ledger, _, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 10})
	metrics := ledger.metrics.(*recordingMetrics)
	ctx := context.Background()

	_, err := ledger.Decrease(ctx, "9090", 4)
	require.NoError(t, err)
	_, err = ledger.Decrease(ctx, "9090", 2)
	require.NoError(t, err)
	_, err = ledger.Restore(ctx, "9090", 1)
	require.NoError(t, err)
	_, err = ledger.SetQuantity(ctx, "9090", 30)
	require.NoError(t, err)

	// rejected mutations are not counted
	_, err = ledger.Decrease(ctx, "9090", 31)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 2, metrics.count(OpDecrease, "9090"))
	assert.Equal(t, 1, metrics.count(OpRestore, "9090"))
	assert.Equal(t, 1, metrics.count(OpAdjust, "9090"))
}

func TestMutate_BacksOffBetweenConflicts(t *testing.T) {
	ledger, repo, _ := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})
	repo.conflicts = 2

	start := time.Now()
	_, err := ledger.Decrease(context.Background(), "9090", 1)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, repo.updates)
	// two waits of at least half of 2ms and 4ms
	assert.GreaterOrEqual(t, elapsed, 3*time.Millisecond)
}

func TestMutate_StopsWaitingWhenContextEnds(t *testing.T) {
	ledger, repo, publisher := setupLedger(domain.StockItem{SKU: "9090", Quantity: 50})
	ledger.attempts = 50
	repo.conflicts = 1000
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ledger.Decrease(ctx, "9090", 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, repo.updates, 50)
	assert.Empty(t, publisher.events)
}
