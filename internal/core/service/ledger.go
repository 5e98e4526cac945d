package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/port"
)

// Ledger operation names, used as the op label of the update counter.
const (
	OpDecrease = "decrease"
	OpAdjust   = "adjust"
	OpRestore  = "restore"
)

const (
	DefaultWriteAttempts = 5

	conflictInitialInterval = 2 * time.Millisecond
	conflictMaxInterval     = 50 * time.Millisecond
)

// Ledger is the single owner of stock quantities. Every mutation is a
// load, compute, conditional-store loop against the item version.
type Ledger struct {
	repo      port.StockRepository
	publisher port.EventPublisher
	metrics   port.Metrics
	clock     port.Clock
	attempts  int
	logger    logrus.FieldLogger
}

func NewLedger(
	repo port.StockRepository,
	publisher port.EventPublisher,
	metrics port.Metrics,
	clock port.Clock,
	attempts int,
	logger logrus.FieldLogger,
) *Ledger {
	if attempts <= 0 {
		attempts = DefaultWriteAttempts
	}
	return &Ledger{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		attempts:  attempts,
		logger:    logger,
	}
}

func (l *Ledger) Get(ctx context.Context, sku string) (*domain.StockItem, error) {
	item, err := l.repo.GetStock(ctx, sku)
	if err != nil {
		return nil, errors.Wrapf(err, "get stock %s", sku)
	}
	return item, nil
}

func (l *Ledger) List(ctx context.Context) ([]domain.StockItem, error) {
	items, err := l.repo.ListStock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list stock")
	}
	return items, nil
}

// Decrease removes amount from the SKU. It fails with ErrInsufficientStock
// without touching the item when amount exceeds the current quantity.
func (l *Ledger) Decrease(ctx context.Context, sku string, amount int) (domain.StockItem, error) {
	if amount <= 0 {
		return domain.StockItem{}, errors.Wrapf(domain.ErrInvalidQuantity, "decrease %s by %d", sku, amount)
	}
	return l.mutate(ctx, sku, OpDecrease, decreaseBy(sku, amount))
}

// SetQuantity overwrites the quantity, used for manual adjustment.
func (l *Ledger) SetQuantity(ctx context.Context, sku string, quantity int) (domain.StockItem, error) {
	if quantity < 0 {
		return domain.StockItem{}, errors.Wrapf(domain.ErrInvalidQuantity, "set %s to %d", sku, quantity)
	}
	return l.mutate(ctx, sku, OpAdjust, func(int) (int, error) {
		return quantity, nil
	})
}

// Restore adds amount back as current+amount, recomputed from a fresh read
// on every attempt so concurrent restorations are never lost.
func (l *Ledger) Restore(ctx context.Context, sku string, amount int) (domain.StockItem, error) {
	if amount <= 0 {
		return domain.StockItem{}, errors.Wrapf(domain.ErrInvalidQuantity, "restore %s by %d", sku, amount)
	}
	return l.mutate(ctx, sku, OpRestore, restoreBy(amount))
}

func decreaseBy(sku string, amount int) func(current int) (int, error) {
	return func(current int) (int, error) {
		if amount > current {
			return 0, errors.Wrapf(domain.ErrInsufficientStock, "sku %s has %d, requested %d", sku, current, amount)
		}
		return current - amount, nil
	}
}

func restoreBy(amount int) func(current int) (int, error) {
	return func(current int) (int, error) {
		return current + amount, nil
	}
}

func (l *Ledger) mutate(ctx context.Context, sku, op string, next func(current int) (int, error)) (domain.StockItem, error) {
	stored, err := l.apply(ctx, l.repo, sku, op, next)
	if err != nil {
		return domain.StockItem{}, err
	}
	l.committed(ctx, op, stored)
	return stored, nil
}

// apply runs the load, compute, conditional-store loop against repo without
// announcing the result. Callers writing inside a unit of work call
// committed once their transaction has gone through.
func (l *Ledger) apply(ctx context.Context, repo port.StockRepository, sku, op string, next func(current int) (int, error)) (domain.StockItem, error) {
	log := l.logger.WithFields(logrus.Fields{"sku": sku, "op": op})

	attempt := 0
	operation := func() (domain.StockItem, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return domain.StockItem{}, backoff.Permanent(err)
		}

		item, err := repo.GetStock(ctx, sku)
		if err != nil {
			return domain.StockItem{}, backoff.Permanent(errors.Wrapf(err, "load stock %s", sku))
		}
		if item == nil {
			return domain.StockItem{}, backoff.Permanent(errors.Wrapf(domain.ErrItemNotFound, "sku %s", sku))
		}

		quantity, err := next(item.Quantity)
		if err != nil {
			return domain.StockItem{}, backoff.Permanent(err)
		}

		item.Quantity = quantity
		item.UpdatedAt = l.clock.Now()
		stored, err := repo.UpdateStock(ctx, *item)
		if errors.Is(err, domain.ErrWriteConflict) {
			return domain.StockItem{}, err
		}
		if err != nil {
			return domain.StockItem{}, backoff.Permanent(errors.Wrapf(err, "store stock %s", sku))
		}
		return stored, nil
	}
	notify := func(_ error, wait time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Debug("stock version changed, retrying")
	}

	stored, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(l.conflictBackOff(), ctx), notify)
	if errors.Is(err, domain.ErrWriteConflict) {
		log.WithField("attempts", attempt).Warn("giving up after repeated write conflicts")
		return domain.StockItem{}, errors.Wrapf(domain.ErrWriteConflict, "sku %s after %d attempts", sku, attempt)
	}
	if err != nil {
		return domain.StockItem{}, err
	}
	return stored, nil
}

// committed announces a stored mutation: log, metric and stock event.
func (l *Ledger) committed(ctx context.Context, op string, stored domain.StockItem) {
	l.logger.WithFields(logrus.Fields{
		"sku":      stored.SKU,
		"op":       op,
		"quantity": stored.Quantity,
		"version":  stored.Version,
	}).Info("stock updated")
	l.metrics.StockUpdated(ctx, op, stored.SKU)
	l.publisher.Publish(ctx, domain.NewStockChangedEvent(stored.UpdatedAt, stored))
}

// conflictBackOff spaces out retries on a hot SKU with jitter. attempts
// counts the first try.
func (l *Ledger) conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialInterval
	b.MaxInterval = conflictMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(l.attempts-1))
}
