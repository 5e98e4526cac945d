package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

type ReservationRepository interface {
	// CreateReservation persists a new reservation
	CreateReservation(ctx context.Context, r domain.Reservation) error

	// GetReservation retrieves a reservation by id, returns nil if absent
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// UpdateReservationStatus moves a reservation from one status to another.
	// Returns domain.ErrStatusConflict when the stored status is not from.
	UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus, at time.Time) error
}
