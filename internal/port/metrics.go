package port

import "context"

// Metrics counts committed ledger mutations by operation and SKU.
type Metrics interface {
	StockUpdated(ctx context.Context, op, sku string)
}

type NopMetrics struct{}

func (NopMetrics) StockUpdated(context.Context, string, string) {}
