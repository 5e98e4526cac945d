package domain

import "time"

type StockItem struct {
	SKU       string    `db:"sku"`
	Name      string    `db:"name"`
	Quantity  int       `db:"stock"`
	Version   int64     `db:"version"` // optimistic locking
	UpdatedAt time.Time `db:"updated_at"`
}
