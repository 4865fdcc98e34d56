package ml

import (
	"context"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RandomForest 是 Bootstrap 采样的 CART 分类树集成。
type RandomForest struct {
	NEstimators    int     `json:"n_estimators"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	MaxFeatures    int     `json:"max_features"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"-"`
	Trees          []*Tree `json:"trees"`
}

// NewRandomForest 返回默认超参的随机森林：400 棵树、不限深度、叶子最少 1 条样本、每次划分随机选 sqrt(特征数) 个特征。
func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{NEstimators: 400, MinSamplesLeaf: 1, Seed: seed}
}

// Fit 并行训练所有树。每棵树的随机种子由主种子派生，结果与并发度无关。
func (f *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	if err := validateTrainingSet(X, y); err != nil {
		return err
	}
	if f.NEstimators <= 0 {
		f.NEstimators = 100
	}
	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = sqrtFeatures(len(X[0]))
	}
	target := toFloatTargets(y)

	master := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*Tree, f.NEstimators)
	g, gctx := errgroup.WithContext(ctx)
	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := make([]int, len(X))
			for k := range sample {
				sample[k] = rng.Intn(len(X))
			}
			trees[i] = buildTree(X, target, sample, treeParams{
				maxDepth:       f.MaxDepth,
				minSamplesLeaf: f.MinSamplesLeaf,
				maxFeatures:    maxFeatures,
			}, nil, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// PredictProba 返回各树叶子正类占比的平均值。
func (f *RandomForest) PredictProba(x []float64) float64 {
	if f == nil || len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, tree := range f.Trees {
		sum += tree.Predict(x)
	}
	return sum / float64(len(f.Trees))
}

var _ Classifier = (*RandomForest)(nil)
