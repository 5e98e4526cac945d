package service

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

var errStorageDown = errors.New("storage unavailable")

// Mock StockRepository
type mockStockRepo struct {
	mu    sync.Mutex
	items map[string]domain.StockItem

	// conflicts makes the next n UpdateStock calls fail as if another
	// writer had bumped the version in between.
	conflicts int
	failWith  error
	updates   int
}

func newMockStockRepo(items ...domain.StockItem) *mockStockRepo {
	m := &mockStockRepo{items: make(map[string]domain.StockItem)}
	for _, item := range items {
		m.items[item.SKU] = item
	}
	return m
}

func (m *mockStockRepo) GetStock(_ context.Context, sku string) (*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[sku]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *mockStockRepo) ListStock(_ context.Context) ([]domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []domain.StockItem
	for _, item := range m.items {
		items = append(items, item)
	}
	return items, nil
}

func (m *mockStockRepo) UpdateStock(_ context.Context, item domain.StockItem) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates++
	if m.failWith != nil {
		return domain.StockItem{}, m.failWith
	}
	stored, ok := m.items[item.SKU]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		m.items[item.SKU] = stored
		return domain.StockItem{}, domain.ErrWriteConflict
	}
	if stored.Version != item.Version {
		return domain.StockItem{}, domain.ErrWriteConflict
	}
	item.Version++
	m.items[item.SKU] = item
	return item, nil
}

func (m *mockStockRepo) CreateStock(_ context.Context, item domain.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.SKU] = item
	return nil
}

func (m *mockStockRepo) snapshot() map[string]domain.StockItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.items)
}

func (m *mockStockRepo) restore(items map[string]domain.StockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

func (m *mockStockRepo) quantity(sku string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[sku].Quantity
}

// Mock ReservationRepository
type mockReservationRepo struct {
	mu           sync.Mutex
	reservations map[string]domain.Reservation
	failCreate   error
	failUpdate   error
	onCreate     func()
}

func newMockReservationRepo() *mockReservationRepo {
	return &mockReservationRepo{reservations: make(map[string]domain.Reservation)}
}

func (m *mockReservationRepo) CreateReservation(_ context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.onCreate != nil {
		m.onCreate()
	}
	if m.failCreate != nil {
		return m.failCreate
	}
	m.reservations[r.ID] = r
	return nil
}

func (m *mockReservationRepo) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockReservationRepo) UpdateReservationStatus(_ context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate != nil {
		return m.failUpdate
	}
	r, ok := m.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if r.Status != from {
		return domain.ErrStatusConflict
	}
	r.Status = to
	r.UpdatedAt = at
	m.reservations[id] = r
	return nil
}

func (m *mockReservationRepo) snapshot() map[string]domain.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.reservations)
}

func (m *mockReservationRepo) restore(reservations map[string]domain.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = reservations
}

func (m *mockReservationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

// Mock UnitOfWork. Units run one at a time and a failed unit puts both
// repositories back to the state they had when it started.
type mockUnitOfWork struct {
	mu           sync.Mutex
	stock        *mockStockRepo
	reservations *mockReservationRepo
	rollbacks    int
}

type mockRepos struct {
	*mockStockRepo
	*mockReservationRepo
}

func (u *mockUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	items := u.stock.snapshot()
	reservations := u.reservations.snapshot()
	if err := fn(ctx, mockRepos{u.stock, u.reservations}); err != nil {
		u.stock.restore(items)
		u.reservations.restore(reservations)
		u.rollbacks++
		return err
	}
	return nil
}

// Mock Metrics
type recordingMetrics struct {
	mu      sync.Mutex
	updates map[string]int
}

func (m *recordingMetrics) StockUpdated(_ context.Context, op, sku string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updates == nil {
		m.updates = make(map[string]int)
	}
	m.updates[op+"/"+sku]++
}

func (m *recordingMetrics) count(op, sku string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[op+"/"+sku]
}

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofKind(kind domain.EventKind) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}
