package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventStockChanged         EventKind = "stock.changed"
	EventReservationCreated   EventKind = "reservation.created"
	EventReservationConfirmed EventKind = "reservation.confirmed"
	EventReservationCancelled EventKind = "reservation.cancelled"
)

// StockChanged is emitted once per committed ledger mutation.
type StockChanged struct {
	SKU         string `json:"sku"`
	NewQuantity int    `json:"newQuantity"`
	Version     int64  `json:"version"`
}

type ReservationChanged struct {
	ReservationID string            `json:"reservationId"`
	SKU           string            `json:"sku"`
	Quantity      int               `json:"quantity"`
	StoreID       string            `json:"storeId"`
	Status        ReservationStatus `json:"status"`
}

// Event is a tagged variant: Kind selects which payload field is set.
type Event struct {
	ID          uuid.UUID           `json:"eventId"`
	Kind        EventKind           `json:"kind"`
	OccurredAt  time.Time           `json:"timestamp"`
	Stock       *StockChanged       `json:"stock,omitempty"`
	Reservation *ReservationChanged `json:"reservation,omitempty"`
}

func NewStockChangedEvent(at time.Time, item StockItem) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       EventStockChanged,
		OccurredAt: at,
		Stock: &StockChanged{
			SKU:         item.SKU,
			NewQuantity: item.Quantity,
			Version:     item.Version,
		},
	}
}

func NewReservationEvent(kind EventKind, at time.Time, r Reservation) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		OccurredAt: at,
		Reservation: &ReservationChanged{
			ReservationID: r.ID,
			SKU:           r.SKU,
			Quantity:      r.Quantity,
			StoreID:       r.StoreID,
			Status:        r.Status,
		},
	}
}

// Key is the partitioning key of the event: the SKU it concerns.
func (e Event) Key() string {
	switch e.Kind {
	case EventStockChanged:
		return e.Stock.SKU
	case EventReservationCreated, EventReservationConfirmed, EventReservationCancelled:
		return e.Reservation.SKU
	default:
		return ""
	}
}

func (e Event) String() string {
	switch e.Kind {
	case EventStockChanged:
		return fmt.Sprintf("%s{id=%s sku=%s qty=%d v=%d}", e.Kind, e.ID, e.Stock.SKU, e.Stock.NewQuantity, e.Stock.Version)
	case EventReservationCreated, EventReservationConfirmed, EventReservationCancelled:
		return fmt.Sprintf("%s{id=%s reservation=%s sku=%s}", e.Kind, e.ID, e.Reservation.ReservationID, e.Reservation.SKU)
	default:
		return fmt.Sprintf("%s{id=%s}", e.Kind, e.ID)
	}
}
