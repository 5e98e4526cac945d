package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// ViewStore holds the read model. The projector is its only writer.
type ViewStore interface {
	GetView(ctx context.Context, sku string) (*domain.InventoryView, error)
	PutView(ctx context.Context, view domain.InventoryView) error
	ListViews(ctx context.Context) ([]domain.InventoryView, error)
	ListViewsUpdatedSince(ctx context.Context, since time.Time) ([]domain.InventoryView, error)
}
