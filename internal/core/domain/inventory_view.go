package domain

import "time"

// InventoryView is the read-model row for a SKU. It is derived from stock
// events and may lag behind the ledger.
type InventoryView struct {
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
}

const UnknownItemName = "unknown"
