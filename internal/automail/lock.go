package automail

import (
	"context"
	"sync"
)

// RunLock 非阻塞互斥锁，保证同一时间只有一个 run。util.Locker 也满足这个接口。
type RunLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LocalLock 进程内锁
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) TryLock(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLock) Unlock(context.Context) error {
	l.mu.Unlock()
	return nil
}

// ChainLock 依次获取多把锁（先进程内再 Redis），任一失败则释放已获取的
type ChainLock []RunLock

func (c ChainLock) TryLock(ctx context.Context) (bool, error) {
	for i, l := range c {
		ok, err := l.TryLock(ctx)
		if err != nil || !ok {
			for j := i - 1; j >= 0; j-- {
				_ = c[j].Unlock(ctx)
			}
			return false, err
		}
	}
	return true, nil
}

func (c ChainLock) Unlock(ctx context.Context) error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Unlock(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
