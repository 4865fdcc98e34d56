package profile

import (
	"context"
	"strings"
	"time"
)

// Store 抽象档案的持久化。实现必须并发安全。
// Create 负责分配 ID；邮箱重复时返回 ErrDuplicateEmail，记录不存在时返回 ErrNotFound。
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, id int64) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, opts ListOptions) ([]*Profile, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	Close() error
}

// ListOptions 控制列表查询，结果总是按 ID 升序。
type ListOptions struct {
	Limit         int
	Offset        int
	Query         string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，0 表示不限制。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset 跳过前 n 条匹配记录。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithQuery 按姓名或邮箱做不区分大小写的模糊匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

// WithCreatedAfter 只返回在该时间点及之后创建的档案。
func WithCreatedAfter(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.CreatedAfter = ts
	}
}

// WithCreatedBefore 只返回在该时间点及之前创建的档案。
func WithCreatedBefore(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.CreatedBefore = ts
	}
}

// BuildListOptions 在默认值之上依次应用选项。
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// Matches 判断档案是否满足过滤条件，供不支持查询下推的存储使用。
func (opts ListOptions) Matches(p *Profile) bool {
	if !opts.CreatedAfter.IsZero() && p.CreatedAt.Before(opts.CreatedAfter) {
		return false
	}
	if !opts.CreatedBefore.IsZero() && p.CreatedAt.After(opts.CreatedBefore) {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Email), q) {
			return false
		}
	}
	return true
}
