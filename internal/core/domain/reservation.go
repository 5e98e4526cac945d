package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

const DefaultReservationTTL = 10 * time.Minute

type Reservation struct {
	ID        string            `db:"id" json:"id"`
	SKU       string            `db:"sku" json:"sku"`
	Quantity  int               `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	StoreID   string            `db:"store_id" json:"storeId"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
	ExpiresAt time.Time         `db:"expires_at" json:"expiresAt"`
	UpdatedAt time.Time         `db:"updated_at" json:"updatedAt"`
}

// IsExpired reports whether the hold has outlived its expiry time. Nothing
// acts on it; expiry is tracked as data only.
func (r Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r Reservation) IsTerminal() bool {
	return r.Status == ReservationStatusConfirmed || r.Status == ReservationStatusCancelled
}
