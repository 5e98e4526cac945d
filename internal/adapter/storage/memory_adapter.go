package storage

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

// MemoryAdapter keeps stock and reservations in process memory. Writes are
// conditional on version / status exactly like the MySQL adapter.
type MemoryAdapter struct {
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		state: &memoryState{
			stock:        make(map[string]domain.StockItem),
			reservations: make(map[string]domain.Reservation),
		},
	}
}

func (m *MemoryAdapter) GetStock(ctx context.Context, sku string) (*domain.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetStock(ctx, sku)
}

func (m *MemoryAdapter) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListStock(ctx)
}

func (m *MemoryAdapter) UpdateStock(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateStock(ctx, item)
}

func (m *MemoryAdapter) CreateStock(ctx context.Context, item domain.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateStock(ctx, item)
}

func (m *MemoryAdapter) CreateReservation(ctx context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateReservation(ctx, r)
}

func (m *MemoryAdapter) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetReservation(ctx, id)
}

func (m *MemoryAdapter) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateReservationStatus(ctx, id, from, to, at)
}

// Do runs fn against a private copy of the data and swaps it in only when fn
// succeeds. Units of work hold the write lock, so they never interleave.
func (m *MemoryAdapter) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.state.clone()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx
	return nil
}

// memoryState holds the maps; callers provide the locking.
type memoryState struct {
	stock        map[string]domain.StockItem
	reservations map[string]domain.Reservation
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		stock:        maps.Clone(s.stock),
		reservations: maps.Clone(s.reservations),
	}
}

func (s *memoryState) GetStock(_ context.Context, sku string) (*domain.StockItem, error) {
	item, ok := s.stock[sku]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *memoryState) ListStock(_ context.Context) ([]domain.StockItem, error) {
	items := make([]domain.StockItem, 0, len(s.stock))
	for _, item := range s.stock {
		items = append(items, item)
	}
	return items, nil
}

func (s *memoryState) UpdateStock(_ context.Context, item domain.StockItem) (domain.StockItem, error) {
	stored, ok := s.stock[item.SKU]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	if stored.Version != item.Version {
		return domain.StockItem{}, domain.ErrWriteConflict
	}

	stored.Quantity = item.Quantity
	stored.Version++
	stored.UpdatedAt = item.UpdatedAt
	s.stock[item.SKU] = stored
	return stored, nil
}

func (s *memoryState) CreateStock(_ context.Context, item domain.StockItem) error {
	if _, ok := s.stock[item.SKU]; ok {
		return ErrDuplicateKey
	}
	s.stock[item.SKU] = item
	return nil
}

func (s *memoryState) CreateReservation(_ context.Context, r domain.Reservation) error {
	if _, ok := s.reservations[r.ID]; ok {
		return ErrDuplicateKey
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *memoryState) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memoryState) UpdateReservationStatus(_ context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	r, ok := s.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if r.Status != from {
		return domain.ErrStatusConflict
	}
	r.Status = to
	r.UpdatedAt = at
	s.reservations[id] = r
	return nil
}
