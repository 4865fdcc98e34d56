package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/config"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/ml"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// SanityInput 是训练结束后用于自检的一组正常体征：体温 37.0、血氧 99、心率 70。
var SanityInput = []float64{37.0, 99, 70}

// Options 描述一次训练运行的全部参数。
type Options struct {
	DataPath       string
	OutputPath     string
	Seed           int64
	TestSize       float64
	Threshold      float64
	RFTrees        int
	GBTrees        int
	GBLearningRate float64
	GBMaxDepth     int
	SMOTENeighbors int

	Logger *slog.Logger
	Now    func() time.Time
}

// OptionsFromConfig 把配置文件中的 training 段转换为运行参数。
func OptionsFromConfig(cfg config.TrainingConfig) Options {
	return Options{
		DataPath:       cfg.DataPath,
		OutputPath:     cfg.OutputPath,
		Seed:           cfg.Seed,
		TestSize:       cfg.TestSize,
		Threshold:      cfg.Threshold,
		RFTrees:        cfg.RFTrees,
		GBTrees:        cfg.GBTrees,
		GBLearningRate: cfg.GBLearningRate,
		GBMaxDepth:     cfg.GBMaxDepth,
		SMOTENeighbors: cfg.SMOTENeighbors,
	}
}

func (o *Options) applyDefaults() {
	if o.TestSize <= 0 {
		o.TestSize = 0.2
	}
	if o.Threshold <= 0 {
		o.Threshold = config.DefaultThreshold
	}
	if o.RFTrees <= 0 {
		o.RFTrees = 400
	}
	if o.GBTrees <= 0 {
		o.GBTrees = 300
	}
	if o.GBLearningRate <= 0 {
		o.GBLearningRate = 0.05
	}
	if o.GBMaxDepth <= 0 {
		o.GBMaxDepth = 5
	}
	if o.SMOTENeighbors <= 0 {
		o.SMOTENeighbors = 5
	}
	if o.Logger == nil {
		o.Logger = logger.Named("training")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o Options) validate() error {
	if strings.TrimSpace(o.DataPath) == "" {
		return errors.New("未指定训练数据路径")
	}
	if strings.TrimSpace(o.OutputPath) == "" {
		return errors.New("未指定模型输出路径")
	}
	if o.TestSize >= 1 {
		return fmt.Errorf("测试集比例必须小于 1: %v", o.TestSize)
	}
	if o.Threshold >= 1 {
		return fmt.Errorf("判定阈值必须小于 1: %v", o.Threshold)
	}
	return nil
}

// SanityCheck 是对 SanityInput 的预测结果。
type SanityCheck struct {
	Input       []float64 `json:"input"`
	Probability float64   `json:"abnormal_probability"`
	Prediction  string    `json:"prediction"`
}

// Report 汇总一次训练运行。
type Report struct {
	Clean            dataset.CleanReport     `json:"clean"`
	TrainSamples     int                     `json:"train_samples"`
	TestSamples      int                     `json:"test_samples"`
	ResampledSamples int                     `json:"resampled_samples"`
	Classification   ml.ClassificationReport `json:"classification"`
	ROCAUC           float64                 `json:"roc_auc"`
	ModelPath        string                  `json:"model_path"`
	ModelVersion     string                  `json:"model_version"`
	Sanity           SanityCheck             `json:"sanity"`
	Duration         time.Duration           `json:"duration"`
	Model            *ml.Model               `json:"-"`
}

// String 以接近 sklearn 的排版输出评估结果。
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("Classification report (test split):\n")
	b.WriteString(r.Classification.String())
	if math.IsNaN(r.ROCAUC) {
		b.WriteString("ROC-AUC: n/a (single class in test split)\n")
	} else {
		fmt.Fprintf(&b, "ROC-AUC: %.4f\n", r.ROCAUC)
	}
	fmt.Fprintf(&b, "Model saved to %s (version %s)\n", r.ModelPath, r.ModelVersion)
	fmt.Fprintf(&b, "Sanity prediction for %v: %s (abnormal probability %.4f)\n",
		r.Sanity.Input, r.Sanity.Prediction, r.Sanity.Probability)
	return b.String()
}

// Run 执行完整的训练流程。每个阶段之间检查 ctx，取消后立即返回。
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	started := opts.Now()
	report := &Report{ModelPath: opts.OutputPath}

	frame, err := dataset.Load(opts.DataPath)
	if err != nil {
		return nil, err
	}
	log.Info("数据集已读取", "path", opts.DataPath, "rows", frame.Len())

	cleaned, cleanReport := dataset.Clean(frame)
	report.Clean = cleanReport
	log.Info("数据清洗完成",
		"rows_kept", cleanReport.RowsKept,
		"duplicates", cleanReport.DuplicatesDropped,
		"spo2_clipped", cleanReport.SpO2Clipped,
		"spo2_outliers", cleanReport.SpO2OutliersDropped,
		"normal", cleanReport.Normal,
		"abnormal", cleanReport.Abnormal,
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X, y, err := cleaned.Features()
	if err != nil {
		return nil, err
	}
	split, err := dataset.StratifiedSplit(X, y, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("切分数据集失败: %w", err)
	}
	report.TrainSamples = len(split.XTrain)
	report.TestSamples = len(split.XTest)
	log.Info("数据集切分完成", "train", report.TrainSamples, "test", report.TestSamples)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	smote := &ml.SMOTE{K: opts.SMOTENeighbors, Seed: opts.Seed}
	XRes, yRes, err := smote.FitResample(split.XTrain, split.YTrain)
	if err != nil {
		return nil, fmt.Errorf("SMOTE 过采样失败: %w", err)
	}
	report.ResampledSamples = len(XRes)
	log.Info("过采样完成", "before", len(split.XTrain), "after", len(XRes))

	ensemble := &ml.VotingClassifier{Estimators: []ml.NamedClassifier{
		{Name: "rf", Classifier: &ml.RandomForest{NEstimators: opts.RFTrees, MinSamplesLeaf: 1, Seed: opts.Seed}},
		{Name: "gb", Classifier: &ml.GradientBoosting{
			NEstimators:    opts.GBTrees,
			LearningRate:   opts.GBLearningRate,
			MaxDepth:       opts.GBMaxDepth,
			MinSamplesLeaf: 1,
		}},
		{Name: "lr", Classifier: ml.NewLogisticPipeline()},
	}}
	fitStarted := time.Now()
	if err := ensemble.Fit(ctx, XRes, yRes); err != nil {
		return nil, fmt.Errorf("训练集成模型失败: %w", err)
	}
	log.Info("模型训练完成", "elapsed", time.Since(fitStarted).String())

	probabilities := ml.PredictProbaBatch(ensemble, split.XTest)
	predictions := ml.PredictLabels(probabilities, 0.5)
	report.Classification = ml.NewClassificationReport(split.YTest, predictions, dataset.TargetNames)
	report.ROCAUC = ml.ROCAUC(split.YTest, probabilities)
	log.Info("测试集评估完成", "accuracy", report.Classification.Accuracy, "roc_auc", report.ROCAUC)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainedAt := opts.Now().UTC()
	evaluation := &ml.Evaluation{
		Accuracy:     report.Classification.Accuracy,
		TrainSamples: report.ResampledSamples,
		TestSamples:  report.TestSamples,
	}
	if !math.IsNaN(report.ROCAUC) {
		evaluation.ROCAUC = report.ROCAUC
	}
	model := &ml.Model{
		Version:     trainedAt.Format("20060102T150405Z"),
		Features:    append([]string(nil), dataset.FeatureColumns...),
		TargetNames: append([]string(nil), dataset.TargetNames...),
		Threshold:   opts.Threshold,
		TrainedAt:   trainedAt,
		Evaluation:  evaluation,
		Ensemble:    ensemble,
	}
	if err := ml.Save(opts.OutputPath, model); err != nil {
		return nil, fmt.Errorf("保存模型失败: %w", err)
	}
	report.Model = model
	report.ModelVersion = model.Version
	log.Info("模型已保存", "path", opts.OutputPath, "version", model.Version)

	probability, err := model.PredictProba(SanityInput)
	if err != nil {
		return nil, err
	}
	label := dataset.LabelNormal
	if probability >= opts.Threshold {
		label = dataset.LabelAbnormal
	}
	report.Sanity = SanityCheck{
		Input:       append([]float64(nil), SanityInput...),
		Probability: probability,
		Prediction:  label,
	}
	report.Duration = opts.Now().Sub(started)
	log.Info("健全性预测", "input", SanityInput, "probability", probability, "prediction", label)
	return report, nil
}
