package automail

import (
	"context"
	"sync"
	"time"

	"ubersystem/internal/mailer"
)

// SentKey 幂等键
type SentKey struct {
	EntityType string
	EntityID   string
	Ident      string
}

// SentIndex 已发送集合，run 开始时加载
type SentIndex map[SentKey]struct{}

func (s SentIndex) Has(k SentKey) bool {
	_, ok := s[k]
	return ok
}

func (s SentIndex) Add(k SentKey) { s[k] = struct{}{} }

// SentRecord 一次成功发送的记录
type SentRecord struct {
	Key        SentKey
	DeliveryID string
	Sender     string
	To         []string
	CC         []string
	BCC        []string
	Subject    string
	Body       string
	Format     string
	SentAt     time.Time
}

// SentLog 持久化的发送记录，只追加
type SentLog interface {
	Exists(ctx context.Context, key SentKey) (bool, error)
	Record(ctx context.Context, rec SentRecord) error
	LoadKeys(ctx context.Context) (SentIndex, error)
}

// OutboxSender 在一个事务里写出站事件和发送记录，两者一起提交或一起回滚。
// 发送记录已存在时回滚出站事件，返回空 delivery id 和 nil。
type OutboxSender interface {
	SendAndRecord(ctx context.Context, msg mailer.Message, rec SentRecord) (string, error)
}

// MemorySentLog 内存实现，测试和本地开发用
type MemorySentLog struct {
	mu      sync.Mutex
	records []SentRecord
	keys    SentIndex
}

func NewMemorySentLog() *MemorySentLog {
	return &MemorySentLog{keys: make(SentIndex)}
}

func (m *MemorySentLog) Exists(_ context.Context, key SentKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys.Has(key), nil
}

// Record 重复记录同一个键不报错，也不追加
func (m *MemorySentLog) Record(_ context.Context, rec SentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys.Has(rec.Key) {
		return nil
	}
	m.keys.Add(rec.Key)
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySentLog) LoadKeys(_ context.Context) (SentIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(SentIndex, len(m.keys))
	for k := range m.keys {
		out.Add(k)
	}
	return out, nil
}

// Records 已记录的发送，按记录顺序
func (m *MemorySentLog) Records() []SentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentRecord(nil), m.records...)
}
