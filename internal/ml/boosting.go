package ml

import (
	"context"
	"math"
)

// GradientBoosting 是以对数损失为目标的二分类梯度提升树。
type GradientBoosting struct {
	NEstimators    int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	Init           float64 `json:"init"`
	Trees          []*Tree `json:"trees"`
}

// NewGradientBoosting 返回默认超参：300 棵树、学习率 0.05、最大深度 5。
// 不做行采样，训练过程是确定性的，因此不需要随机种子。
func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{NEstimators: 300, LearningRate: 0.05, MaxDepth: 5, MinSamplesLeaf: 1}
}

// Fit 从先验对数几率开始，每一轮用回归树拟合负梯度，叶子值取一步牛顿更新。
func (g *GradientBoosting) Fit(ctx context.Context, X [][]float64, y []int) error {
	if err := validateTrainingSet(X, y); err != nil {
		return err
	}
	if g.NEstimators <= 0 {
		g.NEstimators = 100
	}
	if g.LearningRate <= 0 {
		g.LearningRate = 0.1
	}
	if g.MaxDepth <= 0 {
		g.MaxDepth = 3
	}

	target := toFloatTargets(y)
	n := len(X)
	var positives float64
	for _, v := range target {
		positives += v
	}
	prior := positives / float64(n)
	g.Init = math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = g.Init
	}
	prob := make([]float64, n)
	residual := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	leaf := func(indices []int) float64 {
		var num, den float64
		for _, i := range indices {
			num += residual[i]
			den += prob[i] * (1 - prob[i])
		}
		if den < 1e-150 {
			return 0
		}
		return num / den
	}

	g.Trees = make([]*Tree, 0, g.NEstimators)
	for m := 0; m < g.NEstimators; m++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range raw {
			prob[i] = sigmoid(raw[i])
			residual[i] = target[i] - prob[i]
		}
		tree := buildTree(X, residual, all, treeParams{
			maxDepth:       g.MaxDepth,
			minSamplesLeaf: g.MinSamplesLeaf,
		}, leaf, nil)
		for i := range raw {
			raw[i] += g.LearningRate * tree.Predict(X[i])
		}
		g.Trees = append(g.Trees, tree)
	}
	return nil
}

// DecisionFunction 返回未经 sigmoid 的原始得分。
func (g *GradientBoosting) DecisionFunction(x []float64) float64 {
	score := g.Init
	for _, tree := range g.Trees {
		score += g.LearningRate * tree.Predict(x)
	}
	return score
}

// PredictProba 返回正类概率。
func (g *GradientBoosting) PredictProba(x []float64) float64 {
	if g == nil || len(g.Trees) == 0 {
		return sigmoid(g.safeInit())
	}
	return sigmoid(g.DecisionFunction(x))
}

func (g *GradientBoosting) safeInit() float64 {
	if g == nil {
		return 0
	}
	return g.Init
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

var _ Classifier = (*GradientBoosting)(nil)
