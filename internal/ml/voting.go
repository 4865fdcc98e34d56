package ml

import (
	"context"
	"errors"
	"fmt"
)

// NamedClassifier 是投票集成中的一个成员。
type NamedClassifier struct {
	Name       string
	Classifier Classifier
}

// VotingClassifier 以软投票方式集成多个分类器：正类概率取各成员的算术平均。
type VotingClassifier struct {
	Estimators []NamedClassifier
}

// NewProposedEnsemble 返回随机森林、梯度提升与标准化逻辑回归组成的默认集成。
func NewProposedEnsemble(seed int64) *VotingClassifier {
	return &VotingClassifier{Estimators: []NamedClassifier{
		{Name: "rf", Classifier: NewRandomForest(seed)},
		{Name: "gb", Classifier: NewGradientBoosting()},
		{Name: "lr", Classifier: NewLogisticPipeline()},
	}}
}

// Fit 依次训练每个成员。
func (v *VotingClassifier) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(v.Estimators) == 0 {
		return errors.New("投票集成没有任何成员")
	}
	for _, est := range v.Estimators {
		if err := est.Classifier.Fit(ctx, X, y); err != nil {
			return fmt.Errorf("训练成员 %s 失败: %w", est.Name, err)
		}
	}
	return nil
}

// PredictProba 返回各成员正类概率的平均值。
func (v *VotingClassifier) PredictProba(x []float64) float64 {
	if v == nil || len(v.Estimators) == 0 {
		return 0
	}
	var sum float64
	for _, est := range v.Estimators {
		sum += est.Classifier.PredictProba(x)
	}
	return sum / float64(len(v.Estimators))
}

// Member 按名称查找成员。
func (v *VotingClassifier) Member(name string) (Classifier, bool) {
	for _, est := range v.Estimators {
		if est.Name == name {
			return est.Classifier, true
		}
	}
	return nil, false
}

var _ Classifier = (*VotingClassifier)(nil)
