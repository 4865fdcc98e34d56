package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion 是模型文件格式版本，读取到不同版本时拒绝加载。
const FormatVersion = 1

const (
	kindRandomForest     = "random_forest"
	kindGradientBoosting = "gradient_boosting"
	kindLogistic         = "logistic_pipeline"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Evaluation 记录保存模型时的测试集表现。
type Evaluation struct {
	ROCAUC       float64 `json:"roc_auc"`
	Accuracy     float64 `json:"accuracy"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  int     `json:"test_samples"`
}

// Model 是可持久化的已训练集成模型。
type Model struct {
	Version     string            `json:"version"`
	Features    []string          `json:"features"`
	TargetNames []string          `json:"target_names"`
	Threshold   float64           `json:"threshold"`
	TrainedAt   time.Time         `json:"trained_at"`
	Evaluation  *Evaluation       `json:"evaluation,omitempty"`
	Ensemble    *VotingClassifier `json:"-"`
}

// PredictProba 返回正类(异常)概率。
func (m *Model) PredictProba(x []float64) (float64, error) {
	if m == nil || m.Ensemble == nil {
		return 0, ErrNotFitted
	}
	if len(x) != len(m.Features) {
		return 0, fmt.Errorf("模型需要 %d 个特征，实际收到 %d 个", len(m.Features), len(x))
	}
	return m.Ensemble.PredictProba(x), nil
}

type estimatorDocument struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Forest   *RandomForest     `json:"random_forest,omitempty"`
	Boosting *GradientBoosting `json:"gradient_boosting,omitempty"`
	Logistic *LogisticPipeline `json:"logistic_pipeline,omitempty"`
}

type modelDocument struct {
	FormatVersion int                 `json:"format_version"`
	Version       string              `json:"version"`
	Features      []string            `json:"features"`
	TargetNames   []string            `json:"target_names"`
	Threshold     float64             `json:"threshold"`
	TrainedAt     time.Time           `json:"trained_at"`
	Evaluation    *Evaluation         `json:"evaluation,omitempty"`
	Estimators    []estimatorDocument `json:"estimators"`
}

// Save 把模型写入 path。以 .zst 结尾时使用 zstd 压缩。先写临时文件再重命名，监听方不会读到半个文件。
func Save(path string, model *Model) error {
	if model == nil || model.Ensemble == nil {
		return ErrNotFitted
	}
	doc := modelDocument{
		FormatVersion: FormatVersion,
		Version:       model.Version,
		Features:      model.Features,
		TargetNames:   model.TargetNames,
		Threshold:     model.Threshold,
		TrainedAt:     model.TrainedAt,
		Evaluation:    model.Evaluation,
	}
	for _, est := range model.Ensemble.Estimators {
		entry := estimatorDocument{Name: est.Name}
		switch c := est.Classifier.(type) {
		case *RandomForest:
			entry.Kind, entry.Forest = kindRandomForest, c
		case *GradientBoosting:
			entry.Kind, entry.Boosting = kindGradientBoosting, c
		case *LogisticPipeline:
			entry.Kind, entry.Logistic = kindLogistic, c
		default:
			return fmt.Errorf("成员 %s 的类型 %T 不支持持久化", est.Name, est.Classifier)
		}
		doc.Estimators = append(doc.Estimators, entry)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化模型失败: %w", err)
	}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("创建 zstd 编码器失败: %w", err)
		}
		payload = enc.EncodeAll(payload, nil)
		_ = enc.Close()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建模型目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return fmt.Errorf("创建临时模型文件失败: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("写入模型失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("写入模型失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("替换模型文件失败: %w", err)
	}
	return nil
}

// Load 读取 Save 写出的模型文件，自动识别 zstd 压缩。
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode 从内存中的字节解析模型。
func Decode(data []byte) (*Model, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("创建 zstd 解码器失败: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("解压模型失败: %w", err)
		}
	}

	var doc modelDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析模型失败: %w", err)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("不支持的模型格式版本: %d", doc.FormatVersion)
	}
	if len(doc.Features) == 0 {
		return nil, errors.New("模型缺少特征定义")
	}
	if len(doc.Estimators) == 0 {
		return nil, errors.New("模型不包含任何成员")
	}

	ensemble := &VotingClassifier{}
	for _, entry := range doc.Estimators {
		var c Classifier
		switch entry.Kind {
		case kindRandomForest:
			if entry.Forest != nil {
				c = entry.Forest
			}
		case kindGradientBoosting:
			if entry.Boosting != nil {
				c = entry.Boosting
			}
		case kindLogistic:
			if entry.Logistic != nil {
				c = entry.Logistic
			}
		default:
			return nil, fmt.Errorf("未知的成员类型: %s", entry.Kind)
		}
		if c == nil {
			return nil, fmt.Errorf("成员 %s 缺少参数", entry.Name)
		}
		ensemble.Estimators = append(ensemble.Estimators, NamedClassifier{Name: entry.Name, Classifier: c})
	}

	return &Model{
		Version:     doc.Version,
		Features:    doc.Features,
		TargetNames: doc.TargetNames,
		Threshold:   doc.Threshold,
		TrainedAt:   doc.TrainedAt,
		Evaluation:  doc.Evaluation,
		Ensemble:    ensemble,
	}, nil
}
