package port

import (
	"context"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// EventPublisher hands events to subscribers without waiting for delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}
