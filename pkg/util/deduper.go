package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的去重器，mail-relay 用它保证同一 delivery 只投递一次
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup marker for a given handler + deliveryID
// returns true if this is the FIRST time processing
// returns false if it's a duplicate
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, deliveryID string) bool {
	key := fmt.Sprintf("dedup:%s:%s", handler, deliveryID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？当 redis 不可用时，不阻止处理，返回 true
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("delivery_id", deliveryID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated delivery",
			zap.String("handler", handler),
			zap.String("delivery_id", deliveryID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release 投递失败需要重试时删除去重标记
func (d *Deduper) Release(ctx context.Context, handler string, deliveryID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf("dedup:%s:%s", handler, deliveryID)).Err()
}
