package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/config"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/ml"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// 推理相关的错误码。
const (
	CodeModelNotLoaded    xerrors.Code = "MODEL_NOT_LOADED"
	CodeModelLoad         xerrors.Code = "MODEL_LOAD_FAILED"
	CodePredictionFailure xerrors.Code = "PREDICTION_FAILED"
)

func init() {
	xerrors.Register(CodeModelNotLoaded, xerrors.Attributes{
		Message:    "ML model not loaded",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeModelLoad, xerrors.Attributes{
		Message:  "failed to load model",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodePredictionFailure, xerrors.Attributes{
		Message:  "prediction failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// ErrModelNotLoaded 表示当前没有可用模型。
var ErrModelNotLoaded = xerrors.New(CodeModelNotLoaded, "")

// 推荐语。
const (
	RecommendationAbnormal = "Seek medical attention immediately"
	RecommendationNormal   = "Vitals appear normal"
)

// Vitals 是一次预测的输入。
type Vitals struct {
	TempC float64 `json:"Temp_C"`
	SpO2  float64 `json:"SpO2"`
	BPM   float64 `json:"BPM"`
}

// Features 按模型的特征顺序返回输入。
func (v Vitals) Features() []float64 {
	return []float64{v.TempC, v.SpO2, v.BPM}
}

func (v Vitals) validate() error {
	for name, value := range map[string]float64{
		dataset.ColumnTempC: v.TempC,
		dataset.ColumnSpO2:  v.SpO2,
		dataset.ColumnBPM:   v.BPM,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s must be a finite number", name))
		}
	}
	return nil
}

// Prediction 是一次推理的完整结果，概率保留 4 位小数。
type Prediction struct {
	Input               Vitals  `json:"input"`
	Label               string  `json:"prediction"`
	Code                int     `json:"prediction_code"`
	AbnormalProbability float64 `json:"abnormal_probability"`
	NormalProbability   float64 `json:"normal_probability"`
	Threshold           float64 `json:"threshold_used"`
	Recommendation      string  `json:"recommendation"`
	ModelVersion        string  `json:"model_version"`
	Cached              bool    `json:"-"`
}

// Cache 缓存序列化后的预测结果。实现方负责过期策略。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Status 描述模型当前的加载情况。
type Status struct {
	Loaded    bool      `json:"loaded"`
	Path      string    `json:"path"`
	Version   string    `json:"version,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	Threshold float64   `json:"threshold"`
}

// Predictor 在读写锁保护下持有模型，支持并发预测与热替换。
type Predictor struct {
	path      string
	threshold float64
	cache     Cache
	logger    *slog.Logger
	onLoad    func(*ml.Model)

	mu       sync.RWMutex
	model    *ml.Model
	loadedAt time.Time
}

// Option 定义可选配置。
type Option func(*Predictor)

// WithThreshold 覆盖默认判定阈值。
func WithThreshold(threshold float64) Option {
	return func(p *Predictor) {
		if threshold > 0 && threshold < 1 {
			p.threshold = threshold
		}
	}
}

// WithCache 启用结果缓存。
func WithCache(cache Cache) Option {
	return func(p *Predictor) {
		p.cache = cache
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(p *Predictor) {
		p.logger = logger
	}
}

// WithLoadHook 在每次成功加载模型后回调，常用于更新指标。
func WithLoadHook(hook func(*ml.Model)) Option {
	return func(p *Predictor) {
		p.onLoad = hook
	}
}

// New 创建 Predictor，此时尚未加载模型。
func New(path string, opts ...Option) *Predictor {
	p := &Predictor{path: path, threshold: config.DefaultThreshold}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("inference")
	}
	return p
}

// Load 从模型路径读取模型并替换当前模型。失败时保留旧模型。
func (p *Predictor) Load() error {
	model, err := ml.Load(p.path)
	if err != nil {
		return xerrors.Wrap(CodeModelLoad, err, fmt.Sprintf("加载模型 %s 失败", p.path))
	}
	p.SetModel(model)
	p.logger.Info("模型已加载", "path", p.path, "version", model.Version, "trained_at", model.TrainedAt)
	return nil
}

// SetModel 直接替换当前模型。
func (p *Predictor) SetModel(model *ml.Model) {
	p.mu.Lock()
	p.model = model
	p.loadedAt = time.Now()
	p.mu.Unlock()
	if model != nil && p.onLoad != nil {
		p.onLoad(model)
	}
}

// Loaded 判断是否已有可用模型。
func (p *Predictor) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Threshold 返回判定阈值。
func (p *Predictor) Threshold() float64 {
	return p.threshold
}

// Status 返回模型加载状态。
func (p *Predictor) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status := Status{Path: p.path, Threshold: p.threshold}
	if p.model != nil {
		status.Loaded = true
		status.Version = p.model.Version
		status.LoadedAt = p.loadedAt
	}
	return status
}

// Predict 计算异常概率并按阈值给出判定，概率大于等于阈值即判为异常。
func (p *Predictor) Predict(ctx context.Context, vitals Vitals) (Prediction, error) {
	if err := vitals.validate(); err != nil {
		return Prediction{}, err
	}
	p.mu.RLock()
	model := p.model
	p.mu.RUnlock()
	if model == nil {
		return Prediction{}, ErrModelNotLoaded
	}

	key := p.cacheKey(model.Version, vitals)
	if cached, ok := p.lookup(ctx, key); ok {
		return cached, nil
	}

	probability, err := model.PredictProba(vitals.Features())
	if err != nil {
		return Prediction{}, xerrors.Wrap(CodePredictionFailure, err, "Prediction failed: "+err.Error())
	}
	if math.IsNaN(probability) {
		return Prediction{}, xerrors.New(CodePredictionFailure, "Prediction failed: model returned NaN")
	}

	result := Prediction{
		Input:               vitals,
		AbnormalProbability: Round4(probability),
		NormalProbability:   Round4(1 - probability),
		Threshold:           p.threshold,
		ModelVersion:        model.Version,
	}
	if probability >= p.threshold {
		result.Code = 1
		result.Label = dataset.LabelAbnormal
		result.Recommendation = RecommendationAbnormal
	} else {
		result.Label = dataset.LabelNormal
		result.Recommendation = RecommendationNormal
	}

	p.store(ctx, key, result)
	return result, nil
}

func (p *Predictor) cacheKey(version string, v Vitals) string {
	format := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	return version + ":" + strconv.FormatFloat(p.threshold, 'g', -1, 64) + ":" +
		format(v.TempC) + ":" + format(v.SpO2) + ":" + format(v.BPM)
}

func (p *Predictor) lookup(ctx context.Context, key string) (Prediction, bool) {
	if p.cache == nil {
		return Prediction{}, false
	}
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("读取预测缓存失败", "error", err)
		return Prediction{}, false
	}
	if !ok {
		return Prediction{}, false
	}
	var cached Prediction
	if err := json.Unmarshal(raw, &cached); err != nil {
		p.logger.Warn("预测缓存内容无法解析", "error", err)
		return Prediction{}, false
	}
	cached.Cached = true
	return cached, true
}

func (p *Predictor) store(ctx context.Context, key string, result Prediction) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, raw); err != nil {
		p.logger.Warn("写入预测缓存失败", "error", err)
	}
}

// Round4 四舍五入到 4 位小数。
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
