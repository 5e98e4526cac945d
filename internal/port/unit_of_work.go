package port

import "context"

// Repositories is the set of stores a unit of work writes through.
type Repositories interface {
	StockRepository
	ReservationRepository
}

// UnitOfWork runs fn inside one storage transaction. Every write fn makes
// through repos commits when fn returns nil and is discarded otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
