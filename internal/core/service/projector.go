package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

// Projector folds stock events into the read model. It is the only writer of
// its ViewStore; readers go to the store directly and never wait on it.
type Projector struct {
	store  port.ViewStore
	clock  port.Clock
	logger logrus.FieldLogger

	mu sync.Mutex // serializes read-compare-write of a view
}

func NewProjector(store port.ViewStore, clock port.Clock, logger logrus.FieldLogger) *Projector {
	return &Projector{
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Bootstrap seeds the read model from the authoritative stock snapshot.
func (p *Projector) Bootstrap(ctx context.Context, items []domain.StockItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	for _, item := range items {
		current, err := p.store.GetView(ctx, item.SKU)
		if err != nil {
			return errors.Wrapf(err, "load view %s", item.SKU)
		}
		if current != nil && current.Version >= item.Version {
			continue
		}
		view := domain.InventoryView{
			SKU:         item.SKU,
			Name:        item.Name,
			Quantity:    item.Quantity,
			Version:     item.Version,
			LastUpdated: now,
		}
		if err := p.store.PutView(ctx, view); err != nil {
			return errors.Wrapf(err, "seed view %s", item.SKU)
		}
	}

	p.logger.WithField("items", len(items)).Info("read model seeded from ledger")
	return nil
}

// Handle is the event-channel entry point. Only stock changes touch the
// read model; other kinds are ignored.
func (p *Projector) Handle(ctx context.Context, event domain.Event) error {
	switch event.Kind {
	case domain.EventStockChanged:
		return p.applyStockChanged(ctx, *event.Stock)
	default:
		return nil
	}
}

func (p *Projector) applyStockChanged(ctx context.Context, change domain.StockChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.logger.WithFields(logrus.Fields{"sku": change.SKU, "version": change.Version})

	view, err := p.store.GetView(ctx, change.SKU)
	if err != nil {
		return errors.Wrapf(err, "load view %s", change.SKU)
	}
	if view == nil {
		view = &domain.InventoryView{SKU: change.SKU, Name: domain.UnknownItemName}
	} else if change.Version <= view.Version {
		// duplicate or reordered delivery of an older change
		log.WithField("view_version", view.Version).Debug("skipping stale stock event")
		return nil
	}

	view.Quantity = change.NewQuantity
	view.Version = change.Version
	view.LastUpdated = p.clock.Now()
	if err := p.store.PutView(ctx, *view); err != nil {
		return errors.Wrapf(err, "store view %s", change.SKU)
	}

	log.WithField("quantity", change.NewQuantity).Info("read model updated")
	return nil
}

func (p *Projector) GetBySKU(ctx context.Context, sku string) (*domain.InventoryView, error) {
	view, err := p.store.GetView(ctx, sku)
	if err != nil {
		return nil, errors.Wrapf(err, "get view %s", sku)
	}
	return view, nil
}

func (p *Projector) GetAll(ctx context.Context) ([]domain.InventoryView, error) {
	views, err := p.store.ListViews(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list views")
	}
	sortViews(views)
	return views, nil
}

// GetChangesSince returns views whose lastUpdated is strictly after since.
func (p *Projector) GetChangesSince(ctx context.Context, since time.Time) ([]domain.InventoryView, error) {
	views, err := p.store.ListViewsUpdatedSince(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "list changed views")
	}
	sortViews(views)
	return views, nil
}

func sortViews(views []domain.InventoryView) {
	sort.Slice(views, func(i, j int) bool { return views[i].SKU < views[j].SKU })
}
