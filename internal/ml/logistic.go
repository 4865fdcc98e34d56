package ml

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler 把每个特征变换为零均值、单位方差，方差为 0 的特征缩放系数取 1。
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit 计算每列的均值与总体标准差。
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("无法在空数据上拟合标准化器")
	}
	width := len(X[0])
	s.Mean = make([]float64, width)
	s.Scale = make([]float64, width)
	column := make([]float64, len(X))
	n := float64(len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		mean, variance := stat.MeanVariance(column, nil)
		if len(X) > 1 {
			variance = variance * (n - 1) / n
		} else {
			variance = 0
		}
		s.Mean[j] = mean
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Scale[j] = std
	}
	return nil
}

// Transform 返回标准化后的样本副本。
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// LogisticRegression 是带 L2 正则的逻辑回归，使用牛顿法求解。
// ClassWeight 为 "balanced" 时按 n/(2*n_c) 为每个类别加权。
type LogisticRegression struct {
	C           float64   `json:"c"`
	MaxIter     int       `json:"max_iter"`
	Tol         float64   `json:"tol"`
	ClassWeight string    `json:"class_weight"`
	Coef        []float64 `json:"coef"`
	Intercept   float64   `json:"intercept"`
	Iterations  int       `json:"iterations"`
}

// NewLogisticRegression 返回 C=1、最多迭代 1000 次、类别均衡加权的逻辑回归。
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{C: 1.0, MaxIter: 1000, Tol: 1e-8, ClassWeight: "balanced"}
}

// Fit 最小化 C*Σ w_i*logloss_i + ||coef||²/2，截距不参与正则。
func (l *LogisticRegression) Fit(ctx context.Context, X [][]float64, y []int) error {
	if err := validateTrainingSet(X, y); err != nil {
		return err
	}
	if l.C <= 0 {
		l.C = 1
	}
	if l.MaxIter <= 0 {
		l.MaxIter = 100
	}
	if l.Tol <= 0 {
		l.Tol = 1e-8
	}

	n, width := len(X), len(X[0])
	dim := width + 1
	weights := sampleWeights(y, l.ClassWeight)

	beta := make([]float64, dim)
	grad := make([]float64, dim)
	row := make([]float64, dim)
	row[width] = 1

	l.Iterations = 0
	for iter := 0; iter < l.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := range grad {
			grad[j] = 0
		}
		hess := mat.NewSymDense(dim, nil)
		for j := 0; j < width; j++ {
			grad[j] = beta[j]
			hess.SetSym(j, j, 1)
		}
		for i := 0; i < n; i++ {
			copy(row, X[i])
			p := sigmoid(floats.Dot(row, beta))
			g := l.C * weights[i] * (p - float64(y[i]))
			h := l.C * weights[i] * p * (1 - p)
			floats.AddScaled(grad, g, row)
			for a := 0; a < dim; a++ {
				for b := a; b < dim; b++ {
					hess.SetSym(a, b, hess.At(a, b)+h*row[a]*row[b])
				}
			}
		}

		var step mat.VecDense
		if err := step.SolveVec(hess, mat.NewVecDense(dim, grad)); err != nil {
			return fmt.Errorf("逻辑回归牛顿步求解失败: %w", err)
		}
		maxStep := 0.0
		for j := 0; j < dim; j++ {
			delta := step.AtVec(j)
			beta[j] -= delta
			if math.Abs(delta) > maxStep {
				maxStep = math.Abs(delta)
			}
		}
		l.Iterations = iter + 1
		if maxStep < l.Tol {
			break
		}
	}

	l.Coef = append([]float64(nil), beta[:width]...)
	l.Intercept = beta[width]
	return nil
}

// PredictProba 返回正类概率。
func (l *LogisticRegression) PredictProba(x []float64) float64 {
	if l == nil || len(l.Coef) == 0 {
		return 0.5
	}
	return sigmoid(floats.Dot(l.Coef, x) + l.Intercept)
}

func sampleWeights(y []int, mode string) []float64 {
	weights := make([]float64, len(y))
	if mode != "balanced" {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	var counts [2]float64
	for _, label := range y {
		counts[label]++
	}
	n := float64(len(y))
	for i, label := range y {
		weights[i] = n / (2 * counts[label])
	}
	return weights
}

// LogisticPipeline 先标准化再做逻辑回归。
type LogisticPipeline struct {
	Scaler *StandardScaler     `json:"scaler"`
	Model  *LogisticRegression `json:"model"`
}

// NewLogisticPipeline 返回默认配置的标准化+逻辑回归流水线。
func NewLogisticPipeline() *LogisticPipeline {
	return &LogisticPipeline{Scaler: &StandardScaler{}, Model: NewLogisticRegression()}
}

// Fit 先拟合标准化器，再在标准化后的数据上训练逻辑回归。
func (p *LogisticPipeline) Fit(ctx context.Context, X [][]float64, y []int) error {
	if p.Scaler == nil {
		p.Scaler = &StandardScaler{}
	}
	if p.Model == nil {
		p.Model = NewLogisticRegression()
	}
	if err := p.Scaler.Fit(X); err != nil {
		return err
	}
	scaled := make([][]float64, len(X))
	for i, x := range X {
		scaled[i] = p.Scaler.Transform(x)
	}
	return p.Model.Fit(ctx, scaled, y)
}

// PredictProba 返回正类概率。
func (p *LogisticPipeline) PredictProba(x []float64) float64 {
	if p == nil || p.Scaler == nil || p.Model == nil || len(p.Scaler.Mean) == 0 {
		return 0.5
	}
	return p.Model.PredictProba(p.Scaler.Transform(x))
}

var (
	_ Classifier = (*LogisticRegression)(nil)
	_ Classifier = (*LogisticPipeline)(nil)
)
