package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 队列的重试默认值。
const (
	DefaultRedisMaxAttempts  = 5
	DefaultRedisRetryBackoff = time.Second
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// MaxAttempts 是一条记录最多处理的次数，超过后移入死信列表。
	MaxAttempts int
	// RetryBackoff 是第一次重试前的等待时间，之后按次数线性增长。
	RetryBackoff time.Duration
}

// RedisQueue 使用 Redis list 实现记录队列：LPUSH 入队，BRPOP 出队。
// 处理失败的记录退避后重新 LPUSH，排在所有待处理记录之后；
// 达到 MaxAttempts 后写入 "<queue>:dead"。
type RedisQueue struct {
	client      *redis.Client
	queue       string
	wait        time.Duration
	maxAttempts int
	backoff     time.Duration
}

// redisEnvelope 在原始记录外携带已尝试次数。
type redisEnvelope struct {
	Attempts int    `json:"attempts"`
	Payload  []byte `json:"payload"`
}

func encodeEnvelope(env redisEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

// decodeEnvelope 解析队列中的值，无法识别的值按未重试过的原始记录处理。
func decodeEnvelope(raw []byte) redisEnvelope {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Payload == nil {
		return redisEnvelope{Payload: raw}
	}
	return env
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisQueueWithClient(client, cfg), nil
}

// NewRedisQueueWithClient 复用已有的客户端创建队列，cfg 中的连接参数被忽略。
func NewRedisQueueWithClient(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{
		client:      client,
		queue:       cfg.Queue,
		wait:        cfg.BlockWait,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
	}
	if q.queue == "" {
		q.queue = "vitals:predictions"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultRedisMaxAttempts
	}
	if q.backoff <= 0 {
		q.backoff = DefaultRedisRetryBackoff
	}
	return q
}

// DeadLetterKey 返回处理失败次数耗尽的记录所在的列表。
func (q *RedisQueue) DeadLetterKey() string {
	return q.queue + ":dead"
}

// Publish 将记录投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	value, err := encodeEnvelope(redisEnvelope{Payload: payload})
	if err != nil {
		return fmt.Errorf("编码 Redis 记录失败: %w", err)
	}
	if err := q.client.LPush(ctx, q.queue, value).Err(); err != nil {
		return fmt.Errorf("Redis 发布记录失败: %w", err)
	}
	return nil
}

// retryDelay 返回第 attempts 次失败后的等待时间。
func (q *RedisQueue) retryDelay(attempts int) time.Duration {
	return time.Duration(attempts) * q.backoff
}

// retry 退避后把失败的记录放回队列，次数耗尽时写入死信列表。
// 放回操作不跟随 ctx 取消，避免关闭过程中丢失记录。
func (q *RedisQueue) retry(ctx context.Context, env redisEnvelope) {
	env.Attempts++
	target := q.queue
	if env.Attempts >= q.maxAttempts {
		target = q.DeadLetterKey()
	} else {
		timer := time.NewTimer(q.retryDelay(env.Attempts))
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	value, err := encodeEnvelope(env)
	if err != nil {
		return
	}
	_ = q.client.LPush(context.WithoutCancel(ctx), target, value).Err()
}

// Consume 通过 BRPOP 从 Redis 获取记录，处理失败的记录退避后重新入队。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() != nil {
						errCh <- ctx.Err()
						return
					}
					if errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取记录失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				env := decodeEnvelope([]byte(values[1]))
				if handlerErr := handler(ctx, env.Payload); handlerErr != nil {
					q.retry(ctx, env)
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
