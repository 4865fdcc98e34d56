package prediction

import (
	"context"
	"sort"
	"sync"
)

// Store 抽象预测记录的持久化。Save 需要按 ID 幂等，重复投递的记录只保存一次。
type Store interface {
	Save(ctx context.Context, record *Record) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ListOptions 控制历史记录查询，结果按创建时间倒序。
type ListOptions struct {
	Limit  int
	Label  string
	Source string
}

// 分页限制。
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize 填充默认值并约束上限。
func (opts ListOptions) Normalize() ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	return opts
}

// Stats 聚合了预测记录的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Normal          int   `json:"normal"`
	Abnormal        int   `json:"abnormal"`
	OldestCreatedAt int64 `json:"oldest_created_at,omitempty"`
	NewestCreatedAt int64 `json:"newest_created_at,omitempty"`
}

// MemoryStore 以内存方式保存预测记录。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save 实现 Store 接口。
func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return nil
	}
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	opts = opts.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if opts.Label != "" && r.Label != opts.Label {
			continue
		}
		if opts.Source != "" && r.Source != opts.Source {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Stats 实现 Store 接口。
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, r := range m.records {
		stats.Total++
		if r.Abnormal() {
			stats.Abnormal++
		} else {
			stats.Normal++
		}
		ts := r.CreatedAt.Unix()
		if stats.OldestCreatedAt == 0 || ts < stats.OldestCreatedAt {
			stats.OldestCreatedAt = ts
		}
		if ts > stats.NewestCreatedAt {
			stats.NewestCreatedAt = ts
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
