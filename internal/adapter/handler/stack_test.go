package handler

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-reservation/internal/adapter/storage"
	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
	"github.com/rl1809/stock-reservation/internal/port"
)

var testCredentials = Credentials{User: "admin", Password: "admin123"}

// syncPublisher applies events to the projector inline so reads in tests
// observe writes immediately.
type syncPublisher struct {
	projector *service.Projector
}

func (p *syncPublisher) Publish(ctx context.Context, event domain.Event) {
	p.projector.Handle(ctx, event)
}

type testStack struct {
	reservations *service.ReservationService
	ledger       *service.Ledger
	projector    *service.Projector
	stock        *storage.MemoryAdapter
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	clock := port.SystemClock{}

	stock := storage.NewMemoryAdapter()
	require.NoError(t, stock.CreateStock(ctx, domain.StockItem{SKU: "9090", Name: "Demo Product", Quantity: 50}))

	projector := service.NewProjector(storage.NewMemoryViewStore(), clock, logger)
	items, err := stock.ListStock(ctx)
	require.NoError(t, err)
	require.NoError(t, projector.Bootstrap(ctx, items))

	publisher := &syncPublisher{projector: projector}
	ledger := service.NewLedger(stock, publisher, port.NopMetrics{}, clock, service.DefaultWriteAttempts, logger)
	reservations := service.NewReservationService(ledger, stock, stock, publisher, clock, domain.DefaultReservationTTL, logger)

	return &testStack{
		reservations: reservations,
		ledger:       ledger,
		projector:    projector,
		stock:        stock,
	}
}

func (s *testStack) quantity(t *testing.T, sku string) int {
	t.Helper()
	item, err := s.stock.GetStock(context.Background(), sku)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.Quantity
}
