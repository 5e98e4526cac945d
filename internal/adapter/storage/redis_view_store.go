package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

const (
	viewKeyPrefix  = "view:"
	viewUpdatedKey = "views:updated"
)

// RedisViewStore keeps one hash per SKU and a sorted set of SKUs scored by
// their last update time in microseconds.
type RedisViewStore struct {
	client *redis.Client
}

func NewRedisViewStore(client *redis.Client) *RedisViewStore {
	return &RedisViewStore{client: client}
}

func (r *RedisViewStore) GetView(ctx context.Context, sku string) (*domain.InventoryView, error) {
	fields, err := r.client.HGetAll(ctx, viewKeyPrefix+sku).Result()
	if err != nil {
		return nil, fmt.Errorf("get view: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	view, err := decodeView(fields)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (r *RedisViewStore) PutView(ctx context.Context, view domain.InventoryView) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, viewKeyPrefix+view.SKU, map[string]interface{}{
			"sku":          view.SKU,
			"name":         view.Name,
			"quantity":     view.Quantity,
			"version":      view.Version,
			"last_updated": view.LastUpdated.UnixMicro(),
		})
		pipe.ZAdd(ctx, viewUpdatedKey, redis.Z{
			Score:  float64(view.LastUpdated.UnixMicro()),
			Member: view.SKU,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put view: %w", err)
	}
	return nil
}

func (r *RedisViewStore) ListViews(ctx context.Context) ([]domain.InventoryView, error) {
	skus, err := r.client.ZRange(ctx, viewUpdatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	return r.loadViews(ctx, skus)
}

func (r *RedisViewStore) ListViewsUpdatedSince(ctx context.Context, since time.Time) ([]domain.InventoryView, error) {
	skus, err := r.client.ZRangeByScore(ctx, viewUpdatedKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMicro(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list changed views: %w", err)
	}
	return r.loadViews(ctx, skus)
}

func (r *RedisViewStore) loadViews(ctx context.Context, skus []string) ([]domain.InventoryView, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(skus))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, sku := range skus {
			cmds[i] = pipe.HGetAll(ctx, viewKeyPrefix+sku)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	views := make([]domain.InventoryView, 0, len(skus))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		view, err := decodeView(fields)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func decodeView(fields map[string]string) (domain.InventoryView, error) {
	quantity, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return domain.InventoryView{}, fmt.Errorf("decode view quantity: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return domain.InventoryView{}, fmt.Errorf("decode view version: %w", err)
	}
	updated, err := strconv.ParseInt(fields["last_updated"], 10, 64)
	if err != nil {
		return domain.InventoryView{}, fmt.Errorf("decode view timestamp: %w", err)
	}

	return domain.InventoryView{
		SKU:         fields["sku"],
		Name:        fields["name"],
		Quantity:    quantity,
		Version:     version,
		LastUpdated: time.UnixMicro(updated),
	}, nil
}
