package prediction

import (
	"time"

	"github.com/google/uuid"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
)

// 预测来源。
const (
	SourceDetailed = "api/predict"
	SourceCompact  = "predictions"
)

// 预测历史相关的错误码。
const (
	CodeRecordPersist xerrors.Code = "PREDICTION_RECORD_PERSIST"
)

func init() {
	xerrors.Register(CodeRecordPersist, xerrors.Attributes{
		Message:   "failed to persist prediction record",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Record 是一次预测的历史记录。
type Record struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	TempC        float64   `json:"Temp_C"`
	SpO2         float64   `json:"SpO2"`
	BPM          float64   `json:"BPM"`
	Label        string    `json:"prediction"`
	Code         int       `json:"prediction_code"`
	Probability  float64   `json:"abnormal_probability"`
	Threshold    float64   `json:"threshold"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord 根据预测结果生成一条记录。
func NewRecord(source string, p inference.Prediction, now time.Time) *Record {
	return &Record{
		ID:           uuid.NewString(),
		Source:       source,
		TempC:        p.Input.TempC,
		SpO2:         p.Input.SpO2,
		BPM:          p.Input.BPM,
		Label:        p.Label,
		Code:         p.Code,
		Probability:  p.AbnormalProbability,
		Threshold:    p.Threshold,
		ModelVersion: p.ModelVersion,
		CreatedAt:    now.UTC().Truncate(time.Microsecond),
	}
}

// Abnormal 判断记录是否为异常预测。
func (r *Record) Abnormal() bool {
	return r != nil && r.Code == 1
}

// ValidLabel 判断标签过滤条件是否合法，空字符串表示不过滤。
func ValidLabel(label string) bool {
	switch label {
	case "", dataset.LabelNormal, dataset.LabelAbnormal:
		return true
	default:
		return false
	}
}
