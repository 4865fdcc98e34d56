package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/alerting"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/metrics"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// Recorder 把预测结果投递到队列，并由工作协程从队列取出写入存储。
type Recorder struct {
	store          Store
	consumer       Consumer
	producer       Producer
	workerCount    int
	logger         *slog.Logger
	alerter        alerting.Dispatcher
	metrics        *metrics.Registry
	now            func() time.Time
	publishTimeout time.Duration
}

// DefaultPublishTimeout 是单条记录入队的默认超时。
const DefaultPublishTimeout = 2 * time.Second

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderLogger 指定日志输出。
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) RecorderOption {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) RecorderOption {
	return func(r *Recorder) {
		r.alerter = dispatcher
	}
}

// WithMetrics 配置指标注册表。
func WithMetrics(reg *metrics.Registry) RecorderOption {
	return func(r *Recorder) {
		r.metrics = reg
	}
}

// WithPublishTimeout 设置单条记录入队的超时。
func WithPublishTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if timeout > 0 {
			r.publishTimeout = timeout
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder 构造 Recorder。
func NewRecorder(store Store, consumer Consumer, producer Producer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:          store,
		consumer:       consumer,
		producer:       producer,
		workerCount:    1,
		now:            time.Now,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("prediction")
	}
	return r
}

// Record 生成记录并投递到队列。调用方应只记录日志，不应因此让预测请求失败。
// 入队使用脱离请求取消信号的独立超时，客户端断开不会丢记录，队列故障也不会拖住响应。
func (r *Recorder) Record(ctx context.Context, source string, p inference.Prediction) (*Record, error) {
	if r == nil || r.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置预测记录队列")
	}
	record := NewRecord(source, p, r.now())
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化预测记录失败")
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()
	if err := r.producer.Publish(publishCtx, payload); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("预测记录 %s 入队超时", record.ID))
		}
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, fmt.Sprintf("预测记录 %s 入队失败", record.ID))
	}
	return record, nil
}

// Start 启动记录处理循环，直到 ctx 结束。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil || r.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置预测记录消费者或存储")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(ctx context.Context, payload []byte) error {
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil || record.ID == "" {
		r.logger.Warn("丢弃无法解析的预测记录", slog.Int("bytes", len(payload)))
		r.metrics.ObserveRecord("dropped")
		return nil
	}
	if err := r.store.Save(ctx, &record); err != nil {
		wrapped := xerrors.Wrap(CodeRecordPersist, err, fmt.Sprintf("保存预测记录 %s 失败", record.ID))
		r.logger.Error("保存预测记录失败",
			slog.Any("error", wrapped),
			slog.String("record_id", record.ID),
			slog.String("severity", string(xerrors.SeverityOf(wrapped))))
		r.metrics.ObserveRecord("failed")
		return wrapped
	}
	r.metrics.ObserveRecord("stored")
	logger.Audit().Info("预测已记录",
		slog.String("record_id", record.ID),
		slog.String("source", record.Source),
		slog.String("prediction", record.Label),
		slog.Float64("probability", record.Probability),
		slog.String("model_version", record.ModelVersion),
	)
	if record.Abnormal() {
		r.emitAlert(ctx, &record)
	}
	return nil
}

func (r *Recorder) emitAlert(ctx context.Context, record *Record) {
	if r.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(alerting.CodeAbnormalVitals)
	event := alerting.Event{
		Code:        alerting.CodeAbnormalVitals,
		Message:     attrs.Message,
		Severity:    attrs.Severity,
		RecordID:    record.ID,
		Source:      record.Source,
		Probability: record.Probability,
		Metadata: map[string]string{
			"Temp_C":        strconv.FormatFloat(record.TempC, 'f', -1, 64),
			"SpO2":          strconv.FormatFloat(record.SpO2, 'f', -1, 64),
			"BPM":           strconv.FormatFloat(record.BPM, 'f', -1, 64),
			"model_version": record.ModelVersion,
		},
		OccurredAt: record.CreatedAt,
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败", slog.Any("error", err), slog.String("record_id", record.ID))
	}
}
