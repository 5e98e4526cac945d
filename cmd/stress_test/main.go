package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/adapter/eventbus"
	"github.com/rl1809/stock-reservation/internal/adapter/metrics"
	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
	"github.com/rl1809/stock-reservation/internal/port"
)

type options struct {
	initialStock  int
	totalRequests int
	// cancelEvery cancels every n-th successful reservation; 0 never cancels.
	cancelEvery int
}

func (o options) validate() error {
	switch {
	case o.initialStock < 0:
		return fmt.Errorf("stock must not be negative, got %d", o.initialStock)
	case o.totalRequests < 0:
		return fmt.Errorf("requests must not be negative, got %d", o.totalRequests)
	case o.cancelEvery < 0:
		return fmt.Errorf("cancel-every must not be negative, got %d", o.cancelEvery)
	}
	return nil
}

func shouldCancel(n, every int) bool {
	return every > 0 && n%every == 0
}

type report struct {
	reserved  int
	cancelled int
	soldOut   int
	conflicts int
	elapsed   time.Duration
	stock     domain.StockItem
	view      *domain.InventoryView
	updates   []metrics.UpdateTotal
}

func (r report) expectedStock(initial int) int {
	return initial - r.reserved + r.cancelled
}

// Hammers one SKU with concurrent reservations and cancels, then checks the
// ledger and the read model agree.
func main() {
	var opts options
	flag.IntVar(&opts.initialStock, "stock", 20, "initial stock")
	flag.IntVar(&opts.totalRequests, "requests", 50, "concurrent reservation requests")
	flag.IntVar(&opts.cancelEvery, "cancel-every", 3, "cancel every n-th successful reservation, 0 to never cancel")
	flag.Parse()

	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	r, err := run(context.Background(), opts, logger)
	if err != nil {
		log.Fatalf("stress test failed: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", opts.initialStock)
	fmt.Printf("Total Requests:   %d\n", opts.totalRequests)
	fmt.Printf("Reserved:         %d\n", r.reserved)
	fmt.Printf("Cancelled:        %d\n", r.cancelled)
	fmt.Printf("Sold Out:         %d\n", r.soldOut)
	fmt.Printf("Write Conflicts:  %d\n", r.conflicts)
	fmt.Printf("Duration:         %v\n", r.elapsed)
	for _, u := range r.updates {
		fmt.Printf("Updates %-9s %d\n", u.Op+":", u.Count)
	}
	fmt.Println("==========================================")

	expected := r.expectedStock(opts.initialStock)
	if r.stock.Quantity == expected && r.stock.Quantity >= 0 {
		fmt.Printf("PASS: ledger stock %d\n", r.stock.Quantity)
	} else {
		fmt.Printf("FAIL: expected ledger stock %d, got %d\n", expected, r.stock.Quantity)
	}

	if r.view != nil && r.view.Quantity == r.stock.Quantity {
		fmt.Printf("PASS: read model caught up at version %d\n", r.view.Version)
	} else {
		fmt.Printf("FAIL: read model %+v does not match ledger %+v\n", r.view, r.stock)
	}
}

func run(ctx context.Context, opts options, logger *log.Logger) (report, error) {
	sku := "flash-sale-item-" + uuid.NewString()[:8]

	store := storage.NewMemoryAdapter()
	if err := store.CreateStock(ctx, domain.StockItem{SKU: sku, Name: "stress", Quantity: opts.initialStock}); err != nil {
		return report{}, fmt.Errorf("set stock: %w", err)
	}

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return report{}, err
	}
	defer recorder.Shutdown(ctx)

	bus := eventbus.New(eventbus.DefaultRetryPolicy(), eventbus.DefaultQueueSize, logger)
	clock := port.SystemClock{}
	ledger := service.NewLedger(store, bus, recorder, clock, 50, logger)
	reservations := service.NewReservationService(ledger, store, store, bus, clock, domain.DefaultReservationTTL, logger)
	projector := service.NewProjector(storage.NewMemoryViewStore(), clock, logger)
	bus.Subscribe("projector", eventbus.HandlerFunc(projector.Handle))
	items, err := ledger.List(ctx)
	if err != nil {
		return report{}, fmt.Errorf("list stock: %w", err)
	}
	if err := projector.Bootstrap(ctx, items); err != nil {
		return report{}, fmt.Errorf("seed read model: %w", err)
	}

	var (
		successCount  atomic.Int32
		failCount     atomic.Int32
		conflictCount atomic.Int32
		cancelCount   atomic.Int32
		wg            sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < opts.totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			r, err := reservations.Create(ctx, sku, 1, fmt.Sprintf("store-%d", n%4))
			switch {
			case err == nil:
				successCount.Add(1)
			case isConflict(err):
				conflictCount.Add(1)
				return
			default:
				failCount.Add(1)
				return
			}

			if shouldCancel(n, opts.cancelEvery) {
				if _, err := reservations.Cancel(ctx, r.ID); err == nil {
					cancelCount.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bus.Close(closeCtx); err != nil {
		return report{}, fmt.Errorf("bus did not drain: %w", err)
	}

	item, err := ledger.Get(ctx, sku)
	if err != nil {
		return report{}, err
	}
	if item == nil {
		return report{}, fmt.Errorf("sku %s disappeared from the ledger", sku)
	}
	view, err := projector.GetBySKU(ctx, sku)
	if err != nil {
		return report{}, err
	}
	updates, err := recorder.UpdateTotals(ctx)
	if err != nil {
		return report{}, err
	}

	return report{
		reserved:  int(successCount.Load()),
		cancelled: int(cancelCount.Load()),
		soldOut:   int(failCount.Load()),
		conflicts: int(conflictCount.Load()),
		elapsed:   elapsed,
		stock:     *item,
		view:      view,
		updates:   updates,
	}, nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrWriteConflict)
}
