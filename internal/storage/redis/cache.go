package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
)

// 默认参数。
const (
	DefaultPrefix = "vitals:prediction:"
	DefaultTTL    = 10 * time.Minute
)

// Config 描述缓存连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// PredictionCache 将预测结果以 JSON 形式缓存在 Redis 中。
type PredictionCache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewPredictionCache 连接 Redis 并返回缓存实例。
func NewPredictionCache(ctx context.Context, cfg Config) (*PredictionCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeCacheFailure, err, "连接 Redis 缓存失败")
	}
	cache := NewPredictionCacheWithClient(client, cfg.Prefix, cfg.TTL)
	cache.owned = true
	return cache, nil
}

// NewPredictionCacheWithClient 复用已有客户端，Close 不会关闭该客户端。
func NewPredictionCacheWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *PredictionCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PredictionCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *PredictionCache) key(key string) string {
	return c.prefix + key
}

// Get 实现 inference.Cache 接口。键不存在时返回 false 且不报错。
func (c *PredictionCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeCacheFailure, fmt.Errorf("读取缓存 %s: %w", key, err), "读取预测缓存失败")
	}
	return value, true, nil
}

// Set 实现 inference.Cache 接口。
func (c *PredictionCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, fmt.Errorf("写入缓存 %s: %w", key, err), "写入预测缓存失败")
	}
	return nil
}

// TTL 返回缓存过期时间。
func (c *PredictionCache) TTL() time.Duration {
	return c.ttl
}

// Close 关闭由 NewPredictionCache 创建的客户端。
func (c *PredictionCache) Close() error {
	if c == nil || !c.owned {
		return nil
	}
	return c.client.Close()
}

var _ inference.Cache = (*PredictionCache)(nil)
