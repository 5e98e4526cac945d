package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// MemoryViewStore is a lock-free-for-readers keyed store for the read model.
type MemoryViewStore struct {
	views sync.Map // sku -> domain.InventoryView
}

func NewMemoryViewStore() *MemoryViewStore {
	return &MemoryViewStore{}
}

func (s *MemoryViewStore) GetView(_ context.Context, sku string) (*domain.InventoryView, error) {
	v, ok := s.views.Load(sku)
	if !ok {
		return nil, nil
	}
	view := v.(domain.InventoryView)
	return &view, nil
}

func (s *MemoryViewStore) PutView(_ context.Context, view domain.InventoryView) error {
	s.views.Store(view.SKU, view)
	return nil
}

func (s *MemoryViewStore) ListViews(_ context.Context) ([]domain.InventoryView, error) {
	var views []domain.InventoryView
	s.views.Range(func(_, v any) bool {
		views = append(views, v.(domain.InventoryView))
		return true
	})
	return views, nil
}

func (s *MemoryViewStore) ListViewsUpdatedSince(_ context.Context, since time.Time) ([]domain.InventoryView, error) {
	var views []domain.InventoryView
	s.views.Range(func(_, v any) bool {
		view := v.(domain.InventoryView)
		if view.LastUpdated.After(since) {
			views = append(views, view)
		}
		return true
	})
	return views, nil
}
