package util

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 Redis 的非阻塞互斥锁，多实例部署时保证同一时间只有一个 run。
// TTL 兜底进程崩溃后锁无法释放的情况，应大于一次 run 的最长耗时。
type Locker struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

func NewLocker(rdb *redis.Client, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{rdb: rdb, key: key, ttl: ttl}
}

// TryLock 尝试获取锁，不等待。Redis 出错时返回 false 和错误。
func (l *Locker) TryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Unlock 释放锁
func (l *Locker) Unlock(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
}
