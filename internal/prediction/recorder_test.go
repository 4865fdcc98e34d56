package prediction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/alerting"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) Save(ctx context.Context, r *Record) error {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("db down")
	}
	return f.MemoryStore.Save(ctx, r)
}

func prediction(label string, code int, p float64) inference.Prediction {
	return inference.Prediction{
		Input:               inference.Vitals{TempC: 38.4, SpO2: 91, BPM: 118},
		Label:               label,
		Code:                code,
		AbnormalProbability: p,
		NormalProbability:   1 - p,
		Threshold:           0.45,
		ModelVersion:        "v1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRecorderPersistsAndAlerts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	alerts := &captureDispatcher{}
	rec := NewRecorder(store, queue, queue, WithWorkerCount(4), WithAlertDispatcher(alerts))

	done := make(chan error, 1)
	go func() { done <- rec.Start(ctx) }()

	total := 40
	for i := 0; i < total; i++ {
		p := prediction("Normal", 0, 0.1)
		if i%4 == 0 {
			p = prediction("Abnormal", 1, 0.9)
		}
		source := SourceDetailed
		if i%2 == 1 {
			source = SourceCompact
		}
		if _, err := rec.Record(ctx, source, p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	waitFor(t, func() bool {
		stats, _ := store.Stats(ctx)
		return stats.Total == total
	})
	stats, _ := store.Stats(ctx)
	if stats.Abnormal != 10 || stats.Normal != 30 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	waitFor(t, func() bool { return alerts.count() == 10 })

	abnormal, err := store.List(ctx, ListOptions{Label: "Abnormal", Limit: 100})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(abnormal) != 10 {
		t.Fatalf("expected 10 abnormal records, got %d", len(abnormal))
	}
	compact, _ := store.List(ctx, ListOptions{Source: SourceCompact, Limit: 100})
	if len(compact) != 20 {
		t.Fatalf("expected 20 compact records, got %d", len(compact))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected exit: %v", err)
	}
}

func TestRecorderHandleReturnsErrorForRetry(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(1)
	rec := NewRecorder(store, nil, nil)

	payload := []byte(`{"id":"r1","source":"api/predict","prediction":"Normal","prediction_code":0}`)
	if err := rec.handle(context.Background(), payload); err == nil {
		t.Fatalf("expected error so the queue can redeliver")
	}
	if err := rec.handle(context.Background(), payload); err != nil {
		t.Fatalf("second attempt should succeed: %v", err)
	}
	// 重复投递不会产生重复记录。
	if err := rec.handle(context.Background(), payload); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	stats, _ := store.Stats(context.Background())
	if stats.Total != 1 {
		t.Fatalf("expected a single record, got %+v", stats)
	}
	if err := rec.handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
}

func TestRecordWithoutQueueFails(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), nil, nil)
	if _, err := rec.Record(context.Background(), SourceDetailed, prediction("Normal", 0, 0.2)); err == nil {
		t.Fatalf("expected error without producer")
	}
	if err := rec.Start(context.Background()); err == nil {
		t.Fatalf("expected error without consumer")
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(context.Background(), []byte("b")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	var seen atomic.Int32
	err := q.Consume(context.Background(), 2, func(context.Context, []byte) error {
		seen.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("consume after close should drain and return nil: %v", err)
	}
	if seen.Load() != 1 {
		t.Fatalf("expected queued payload to be drained, got %d", seen.Load())
	}
}

func TestMemoryStoreListOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		r := &Record{ID: id, Label: "Normal", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	list, _ := store.List(context.Background(), ListOptions{Limit: 2})
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	stats, _ := store.Stats(context.Background())
	if stats.OldestCreatedAt != base.Unix() || stats.NewestCreatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !ValidLabel("Abnormal") || ValidLabel("abnormal") {
		t.Fatalf("label validation mismatch")
	}
}
