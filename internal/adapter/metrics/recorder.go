package metrics

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	MeterName        = "github.com/rl1809/stock-reservation"
	StockUpdatesName = "inventory_updates_total"

	opKey  = attribute.Key("op")
	skuKey = attribute.Key("sku")
)

// UpdateTotal is the cumulative count of one (op, sku) series.
type UpdateTotal struct {
	Op    string
	SKU   string
	Count int64
}

// Recorder counts ledger mutations on an OpenTelemetry meter. The manual
// reader lets the process read its own totals back, e.g. at shutdown.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	updates  metric.Int64Counter
}

func NewRecorder() (*Recorder, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	updates, err := provider.Meter(MeterName).Int64Counter(StockUpdatesName,
		metric.WithDescription("Committed stock ledger mutations"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", StockUpdatesName, err)
	}

	return &Recorder{provider: provider, reader: reader, updates: updates}, nil
}

func (r *Recorder) StockUpdated(ctx context.Context, op, sku string) {
	r.updates.Add(ctx, 1, metric.WithAttributes(opKey.String(op), skuKey.String(sku)))
}

// UpdateTotals returns every series of the update counter, ordered by SKU
// then op.
func (r *Recorder) UpdateTotals(ctx context.Context) ([]UpdateTotal, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var totals []UpdateTotal
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != StockUpdatesName {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(opKey)
				sku, _ := dp.Attributes.Value(skuKey)
				totals = append(totals, UpdateTotal{Op: op.AsString(), SKU: sku.AsString(), Count: dp.Value})
			}
		}
	}

	sort.Slice(totals, func(i, j int) bool {
		if totals[i].SKU != totals[j].SKU {
			return totals[i].SKU < totals[j].SKU
		}
		return totals[i].Op < totals[j].Op
	})
	return totals, nil
}

func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
