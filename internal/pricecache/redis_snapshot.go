package pricecache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

const snapshotScanCount = 500

// Mirror persists the latest price per symbol outside the process so a
// restarted instance can warm its cache.
type Mirror interface {
	Save(ctx context.Context, update entity.PriceUpdate, ttl time.Duration) error
	LoadAll(ctx context.Context) ([]entity.PriceUpdate, error)
}

type RedisSnapshotStore struct {
	client *redis.Client
}

func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client}
}

func (s *RedisSnapshotStore) Save(ctx context.Context, update entity.PriceUpdate, ttl time.Duration) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, constant.GetPriceSnapshotKey(update.Symbol), payload, ttl).Err()
}

func (s *RedisSnapshotStore) LoadAll(ctx context.Context) ([]entity.PriceUpdate, error) {
	var (
		cursor  uint64
		updates []entity.PriceUpdate
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, constant.PriceSnapshotKeyPrefix+"*", snapshotScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan price snapshots: %w", err)
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("load price snapshots: %w", err)
			}

			for _, raw := range values {
				str, ok := raw.(string)
				if !ok {
					continue
				}

				var update entity.PriceUpdate
				if err := json.Unmarshal([]byte(str), &update); err != nil {
					continue
				}
				updates = append(updates, update)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return updates, nil
}
