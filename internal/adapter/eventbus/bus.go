package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

const DefaultQueueSize = 1024

var ErrDeliveryFailed = errors.New("event delivery failed")

type Handler interface {
	Handle(ctx context.Context, event domain.Event) error
}

type HandlerFunc func(ctx context.Context, event domain.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

type subscription struct {
	name      string
	handler   Handler
	queue     chan domain.Event
	delivered atomic.Int64
	failed    atomic.Int64
}

type SubscriberStats struct {
	Name      string
	Delivered int64
	Failed    int64
}

// Bus fans events out to subscribers. Each subscriber has its own queue and
// worker, so a slow or failing subscriber never holds up the publisher or
// the other subscribers. Events reach a subscriber in publish order unless
// its queue overflows.
type Bus struct {
	policy    RetryPolicy
	queueSize int
	logger    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   []*subscription
	closed bool

	workers  sync.WaitGroup
	overflow sync.WaitGroup
}

func New(policy RetryPolicy, queueSize int, logger logrus.FieldLogger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		policy:    policy,
		queueSize: queueSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.WithField("subscriber", name).Warn("subscribe on closed bus ignored")
		return
	}

	sub := &subscription{
		name:    name,
		handler: handler,
		queue:   make(chan domain.Event, b.queueSize),
	}
	b.subs = append(b.subs, sub)

	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		for event := range sub.queue {
			b.deliver(sub, event)
		}
	}()
}

// Publish schedules delivery of event to every subscriber and returns
// without waiting for any handler.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.WithField("event", event.String()).Warn("publish on closed bus dropped")
		return
	}

	b.logger.WithField("event", event.String()).Debug("publishing event")
	for _, sub := range b.subs {
		select {
		case sub.queue <- event:
		default:
			b.overflow.Add(1)
			go b.enqueueSlow(sub, event)
		}
	}
}

func (b *Bus) enqueueSlow(sub *subscription, event domain.Event) {
	defer b.overflow.Done()

	b.logger.WithField("subscriber", sub.name).Warn("subscriber queue full, delivery may be reordered")
	select {
	case sub.queue <- event:
	case <-b.ctx.Done():
		sub.failed.Add(1)
		b.logger.WithFields(logrus.Fields{"subscriber": sub.name, "event": event.String()}).
			Error("bus stopped before event was queued")
	}
}

func (b *Bus) deliver(sub *subscription, event domain.Event) {
	log := b.logger.WithFields(logrus.Fields{"subscriber": sub.name, "event": event.String()})

	attempts := 0
	operation := func() error {
		attempts++
		return invoke(b.ctx, sub.handler, event)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempts, "wait": wait}).Warn("event delivery failed, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b.policy.newBackOff(), b.ctx), notify)
	if err != nil {
		sub.failed.Add(1)
		log.WithError(errors.Wrapf(ErrDeliveryFailed, "%v", err)).WithField("attempts", attempts).Error("giving up on event delivery")
		return
	}
	sub.delivered.Add(1)
}

func invoke(ctx context.Context, handler Handler, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

func (b *Bus) Stats() []SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make([]SubscriberStats, 0, len(b.subs))
	for _, sub := range b.subs {
		stats = append(stats, SubscriberStats{
			Name:      sub.name,
			Delivered: sub.delivered.Load(),
			Failed:    sub.failed.Load(),
		})
	}
	return stats
}

// Close stops accepting events and drains the queues. If ctx expires first,
// pending retries are abandoned and counted as failures.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.overflow.Wait()
		for _, sub := range b.subs {
			close(sub.queue)
		}
		b.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

// LogHandler logs every event it receives.
func LogHandler(logger logrus.FieldLogger) Handler {
	return HandlerFunc(func(_ context.Context, event domain.Event) error {
		logger.WithFields(logrus.Fields{"event_id": event.ID, "kind": event.Kind, "key": event.Key()}).Info("received event")
		return nil
	})
}
