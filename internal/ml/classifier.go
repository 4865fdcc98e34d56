package ml

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFitted 表示模型尚未训练。
var ErrNotFitted = errors.New("模型尚未训练")

// Classifier 是二分类器的公共能力，PredictProba 返回正类(异常)概率。
type Classifier interface {
	Fit(ctx context.Context, X [][]float64, y []int) error
	PredictProba(x []float64) float64
}

// PredictProbaBatch 对多条样本逐一计算正类概率。
func PredictProbaBatch(c Classifier, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = c.PredictProba(x)
	}
	return out
}

// PredictLabels 以阈值把概率转换为 0/1 标签，概率大于等于阈值判为正类。
func PredictLabels(probabilities []float64, threshold float64) []int {
	out := make([]int, len(probabilities))
	for i, p := range probabilities {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out
}

func validateTrainingSet(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("训练集为空")
	}
	if len(X) != len(y) {
		return fmt.Errorf("特征与标签数量不一致: %d != %d", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return errors.New("样本没有任何特征")
	}
	var positives int
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("第 %d 条样本特征数为 %d，期望 %d", i, len(row), width)
		}
		switch y[i] {
		case 0:
		case 1:
			positives++
		default:
			return fmt.Errorf("第 %d 条样本标签 %d 不是 0/1", i, y[i])
		}
	}
	if positives == 0 || positives == len(y) {
		return errors.New("训练集必须同时包含两个类别")
	}
	return nil
}

func toFloatTargets(y []int) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = float64(v)
	}
	return out
}
