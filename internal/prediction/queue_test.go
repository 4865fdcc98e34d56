package prediction

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
)

func TestMemoryQueuePublishRejectsWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Publish(context.Background(), []byte("b")) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("publish on a full queue blocked")
	}

	closed := make(chan struct{})
	go func() {
		_ = q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close blocked on a full queue")
	}
}

func TestMemoryQueuePublishHonoursCanceledContext(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, []byte("a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("canceled publish should not enqueue")
	}
}

func TestRecorderDoesNotWaitOnFullQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	rec := NewRecorder(NewMemoryStore(), q, q)

	if _, err := rec.Record(context.Background(), SourceDetailed, prediction("Normal", 0, 0.2)); err != nil {
		t.Fatalf("first record: %v", err)
	}
	started := time.Now()
	_, err := rec.Record(context.Background(), SourceDetailed, prediction("Normal", 0, 0.2))
	if time.Since(started) > time.Second {
		t.Fatalf("record waited %s on a full queue", time.Since(started))
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

// stallingProducer 直到 ctx 结束才返回。
type stallingProducer struct{}

func (s *stallingProducer) Publish(ctx context.Context, payload []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallingProducer) Close() error { return nil }

func TestRecorderPublishTimeout(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), nil, &stallingProducer{}, WithPublishTimeout(20*time.Millisecond))

	started := time.Now()
	_, err := rec.Record(context.Background(), SourceCompact, prediction("Normal", 0, 0.2))
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
	if time.Since(started) > time.Second {
		t.Fatalf("publish timeout not applied")
	}
}

func TestRecorderPublishIgnoresRequestCancellation(t *testing.T) {
	q := NewMemoryQueue(4)
	rec := NewRecorder(NewMemoryStore(), q, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rec.Record(ctx, SourceDetailed, prediction("Abnormal", 1, 0.9)); err != nil {
		t.Fatalf("record after client disconnect: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected record to be queued, len=%d", q.Len())
	}
}

func TestRedisEnvelopeDecoding(t *testing.T) {
	raw, err := encodeEnvelope(redisEnvelope{Attempts: 2, Payload: []byte(`{"id":"r1"}`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env := decodeEnvelope(raw)
	if env.Attempts != 2 || string(env.Payload) != `{"id":"r1"}` {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// 旧格式的裸记录视为第一次投递。
	legacy := decodeEnvelope([]byte(`{"id":"r2","source":"predictions"}`))
	if legacy.Attempts != 0 || string(legacy.Payload) != `{"id":"r2","source":"predictions"}` {
		t.Fatalf("unexpected legacy envelope: %+v", legacy)
	}
}

func TestRedisQueueDefaultsAndBackoff(t *testing.T) {
	q := NewRedisQueueWithClient(nil, RedisQueueConfig{RetryBackoff: 100 * time.Millisecond})
	if q.queue != "vitals:predictions" || q.maxAttempts != DefaultRedisMaxAttempts {
		t.Fatalf("unexpected defaults: %+v", q)
	}
	if q.DeadLetterKey() != "vitals:predictions:dead" {
		t.Fatalf("unexpected dead letter key: %s", q.DeadLetterKey())
	}
	if q.retryDelay(1) != 100*time.Millisecond || q.retryDelay(3) != 300*time.Millisecond {
		t.Fatalf("unexpected backoff: %s %s", q.retryDelay(1), q.retryDelay(3))
	}
}

// failingHandler 对 poison 始终失败，对 flaky 只失败一次。
type failingHandler struct {
	mu       sync.Mutex
	attempts map[string]int
	handled  chan string
}

func newFailingHandler() *failingHandler {
	return &failingHandler{attempts: map[string]int{}, handled: make(chan string, 16)}
}

func (h *failingHandler) handle(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(payload)
	h.attempts[key]++
	switch {
	case key == "poison":
		return errors.New("always fails")
	case key == "flaky" && h.attempts[key] == 1:
		return errors.New("fails once")
	}
	h.handled <- key
	return nil
}

func (h *failingHandler) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[key]
}

func TestRedisQueueRetriesAndDeadLetters(t *testing.T) {
	addr := os.Getenv("VITALS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VITALS_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	name := "vitals:test:" + uuid.NewString()
	q, err := NewRedisQueue(ctx, RedisQueueConfig{
		Address:      addr,
		Queue:        name,
		BlockWait:    200 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Close()
	defer q.client.Del(context.Background(), name, q.DeadLetterKey())

	for _, payload := range []string{"ok", "flaky", "poison"} {
		if err := q.Publish(ctx, []byte(payload)); err != nil {
			t.Fatalf("publish %s: %v", payload, err)
		}
	}

	h := newFailingHandler()
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- q.Consume(consumeCtx, 2, h.handle) }()

	waitFor(t, func() bool {
		n, _ := q.client.LLen(ctx, q.DeadLetterKey()).Result()
		return n == 1 && len(h.handled) == 2
	})
	stop()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected consume exit: %v", err)
	}

	if got := h.count("poison"); got != 3 {
		t.Fatalf("poison should be tried MaxAttempts times, got %d", got)
	}
	if got := h.count("flaky"); got != 2 {
		t.Fatalf("flaky should succeed on retry, got %d attempts", got)
	}
	raw, err := q.client.LIndex(ctx, q.DeadLetterKey(), 0).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		t.Fatalf("read dead letter: %v", err)
	}
	if env := decodeEnvelope(raw); string(env.Payload) != "poison" || env.Attempts != 3 {
		t.Fatalf("unexpected dead letter: %+v", env)
	}
	if n, _ := q.client.LLen(ctx, name).Result(); n != 0 {
		t.Fatalf("queue should be drained, len=%d", n)
	}
}

func TestRabbitMQQueueRedeliversOnce(t *testing.T) {
	url := os.Getenv("VITALS_TEST_AMQP_URL")
	if url == "" {
		t.Skip("VITALS_TEST_AMQP_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	q, err := NewRabbitMQQueue(RabbitMQConfig{URL: url, Queue: "vitals.test." + uuid.NewString(), AutoDelete: true})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer q.Close()

	for _, payload := range []string{"ok", "flaky", "poison"} {
		if err := q.Publish(ctx, []byte(payload)); err != nil {
			t.Fatalf("publish %s: %v", payload, err)
		}
	}

	h := newFailingHandler()
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- q.Consume(consumeCtx, 1, h.handle) }()

	// 失败的消息只重新入队一次，再次失败即被丢弃。
	waitFor(t, func() bool { return len(h.handled) == 2 && h.count("poison") == 2 })
	stop()
	<-done

	if got := h.count("flaky"); got != 2 {
		t.Fatalf("flaky should be redelivered once, got %d attempts", got)
	}
	if got := h.count("poison"); got != 2 {
		t.Fatalf("poison should not be redelivered twice, got %d", got)
	}
}
