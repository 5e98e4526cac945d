package port

import (
	"context"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type StockRepository interface {
	// GetStock retrieves a stock item by SKU, returns nil if absent
	GetStock(ctx context.Context, sku string) (*domain.StockItem, error)

	// ListStock returns every stock item, used to seed the read model
	ListStock(ctx context.Context) ([]domain.StockItem, error)

	// UpdateStock stores item.Quantity only if the stored version still equals
	// item.Version and returns the stored item with its bumped version.
	// A stale version yields domain.ErrWriteConflict.
	UpdateStock(ctx context.Context, item domain.StockItem) (domain.StockItem, error)

	// CreateStock inserts a new item, used for seeding
	CreateStock(ctx context.Context, item domain.StockItem) error
}
