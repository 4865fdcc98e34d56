package profile

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 以内存方式保存档案，主要用于测试与无持久化运行。
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[int64]*Profile
	nextID   int64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[int64]*Profile), nextID: 1}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTakenLocked(p.Email, 0) {
		return ErrDuplicateEmail
	}
	p.ID = m.nextID
	m.nextID++
	m.profiles[p.ID] = p.Clone()
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id int64) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		return ErrNotFound
	}
	if m.emailTakenLocked(p.Email, p.ID) {
		return ErrDuplicateEmail
	}
	m.profiles[p.ID] = p.Clone()
	return nil
}

// Delete 实现 Store 接口。
func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if opts.Matches(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if opts.Offset >= len(matched) {
		return []*Profile{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	out := make([]*Profile, len(matched))
	for i, p := range matched {
		out[i] = p.Clone()
	}
	return out, nil
}

// EmailTaken 实现 Store 接口。
func (m *MemoryStore) EmailTaken(_ context.Context, email string, excludeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emailTakenLocked(email, excludeID), nil
}

func (m *MemoryStore) emailTakenLocked(email string, excludeID int64) bool {
	for id, p := range m.profiles {
		if id != excludeID && p.Email == email {
			return true
		}
	}
	return false
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
