package ml

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticVitals 生成可分的体征数据：正常组体温/血氧/心率在正常范围，异常组发热、低氧、心动过速。
func syntheticVitals(seed int64, normal, abnormal int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, 0, normal+abnormal)
	y := make([]int, 0, normal+abnormal)
	for i := 0; i < normal; i++ {
		X = append(X, []float64{
			36.6 + rng.NormFloat64()*0.3,
			97.5 + rng.NormFloat64()*1.0,
			74 + rng.NormFloat64()*6,
		})
		y = append(y, 0)
	}
	for i := 0; i < abnormal; i++ {
		X = append(X, []float64{
			38.6 + rng.NormFloat64()*0.4,
			89 + rng.NormFloat64()*2.5,
			112 + rng.NormFloat64()*8,
		})
		y = append(y, 1)
	}
	return X, y
}

func accuracyOf(t *testing.T, c Classifier, X [][]float64, y []int) float64 {
	t.Helper()
	pred := PredictLabels(PredictProbaBatch(c, X), 0.5)
	correct := 0
	for i := range y {
		if pred[i] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

func TestClassifiersSeparateVitals(t *testing.T) {
	X, y := syntheticVitals(1, 120, 60)
	testX, testY := syntheticVitals(2, 60, 30)

	cases := map[string]Classifier{
		"forest":   &RandomForest{NEstimators: 25, MinSamplesLeaf: 1},
		"boosting": &GradientBoosting{NEstimators: 40, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1},
		"logistic": NewLogisticPipeline(),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Fit(context.Background(), X, y))
			assert.GreaterOrEqual(t, accuracyOf(t, c, testX, testY), 0.95)

			healthy := c.PredictProba([]float64{36.8, 98, 72})
			feverish := c.PredictProba([]float64{39.0, 88, 120})
			assert.Less(t, healthy, 0.5)
			assert.Greater(t, feverish, 0.5)
		})
	}
}

func TestFitRejectsSingleClass(t *testing.T) {
	X := [][]float64{{36.5, 98, 70}, {36.7, 97, 72}}
	y := []int{0, 0}
	err := NewLogisticPipeline().Fit(context.Background(), X, y)
	require.Error(t, err)
	require.Error(t, (&RandomForest{NEstimators: 2}).Fit(context.Background(), X, y))
}

func TestRandomForestDeterministicAcrossWorkers(t *testing.T) {
	X, y := syntheticVitals(3, 60, 30)
	serial := &RandomForest{NEstimators: 12, MinSamplesLeaf: 1, Seed: 7, Workers: 1}
	parallel := &RandomForest{NEstimators: 12, MinSamplesLeaf: 1, Seed: 7, Workers: 4}
	require.NoError(t, serial.Fit(context.Background(), X, y))
	require.NoError(t, parallel.Fit(context.Background(), X, y))

	probe, _ := syntheticVitals(4, 10, 10)
	for _, x := range probe {
		assert.Equal(t, serial.PredictProba(x), parallel.PredictProba(x))
	}
}

func TestRandomForestHonoursCancellation(t *testing.T) {
	X, y := syntheticVitals(5, 40, 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (&RandomForest{NEstimators: 50, Seed: 1}).Fit(ctx, X, y)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGradientBoostingInitIsPriorLogOdds(t *testing.T) {
	X, y := syntheticVitals(6, 75, 25)
	g := &GradientBoosting{NEstimators: 1, LearningRate: 0.1, MaxDepth: 2, MinSamplesLeaf: 1}
	require.NoError(t, g.Fit(context.Background(), X, y))
	assert.InDelta(t, math.Log(25.0/75.0), g.Init, 1e-12)
}

func TestGradientBoostingIsDeterministic(t *testing.T) {
	X, y := syntheticVitals(9, 60, 30)
	first := NewGradientBoosting()
	first.NEstimators = 15
	second := NewGradientBoosting()
	second.NEstimators = 15
	require.NoError(t, first.Fit(context.Background(), X, y))
	require.NoError(t, second.Fit(context.Background(), X, y))

	for _, x := range [][]float64{{36.8, 98, 72}, {38.2, 93, 101}, {39.0, 88, 120}} {
		assert.Equal(t, first.DecisionFunction(x), second.DecisionFunction(x))
	}
}

func TestStandardScalerUsesPopulationStd(t *testing.T) {
	s := &StandardScaler{}
	require.NoError(t, s.Fit([][]float64{{1, 5}, {3, 5}}))
	assert.InDeltaSlice(t, []float64{2, 5}, s.Mean, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1}, s.Scale, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0}, s.Transform([]float64{3, 5}), 1e-12)
}

func TestSMOTEBalancesClasses(t *testing.T) {
	X, y := syntheticVitals(8, 50, 10)
	outX, outY, err := NewSMOTE(42).FitResample(X, y)
	require.NoError(t, err)

	counts := map[int]int{}
	for _, label := range outY {
		counts[label]++
	}
	assert.Equal(t, 50, counts[0])
	assert.Equal(t, 50, counts[1])
	require.Len(t, outX, 100)

	// 原样本保持原位，合成样本落在少数类的包围盒内。
	for i := range X {
		assert.Equal(t, X[i], outX[i])
	}
	lo := append([]float64(nil), X[50]...)
	hi := append([]float64(nil), X[50]...)
	for _, row := range X[50:] {
		for j, v := range row {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}
	for _, row := range outX[len(X):] {
		for j, v := range row {
			assert.GreaterOrEqual(t, v, lo[j])
			assert.LessOrEqual(t, v, hi[j])
		}
	}

	againX, _, err := NewSMOTE(42).FitResample(X, y)
	require.NoError(t, err)
	assert.Equal(t, outX, againX)
}

func TestSMOTERejectsSingletonMinority(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}}
	_, _, err := NewSMOTE(1).FitResample(X, []int{0, 0, 1})
	require.Error(t, err)
}

func TestClassificationReport(t *testing.T) {
	report := NewClassificationReport([]int{0, 0, 1, 1}, []int{0, 1, 1, 1}, []string{"Normal", "Abnormal"})

	assert.InDelta(t, 0.75, report.Accuracy, 1e-12)
	assert.InDelta(t, 1.0, report.Classes[0].Precision, 1e-12)
	assert.InDelta(t, 0.5, report.Classes[0].Recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, report.Classes[0].F1, 1e-12)
	assert.InDelta(t, 2.0/3.0, report.Classes[1].Precision, 1e-12)
	assert.InDelta(t, 1.0, report.Classes[1].Recall, 1e-12)
	assert.Equal(t, 2, report.Classes[1].Support)
	assert.Equal(t, [2][2]int{{1, 1}, {0, 2}}, report.Confusion)
	assert.InDelta(t, (1.0+2.0/3.0)/2, report.MacroAvg.Precision, 1e-12)

	text := report.String()
	for _, want := range []string{"precision", "Normal", "Abnormal", "accuracy", "macro avg", "weighted avg"} {
		assert.Contains(t, text, want)
	}
}

func TestROCAUC(t *testing.T) {
	assert.InDelta(t, 0.75, ROCAUC([]int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}), 1e-12)
	assert.InDelta(t, 0.5, ROCAUC([]int{0, 1}, []float64{0.3, 0.3}), 1e-12)
	assert.True(t, math.IsNaN(ROCAUC([]int{1, 1}, []float64{0.2, 0.9})))
}

func trainedModel(t *testing.T) *Model {
	t.Helper()
	X, y := syntheticVitals(9, 60, 30)
	ensemble := &VotingClassifier{Estimators: []NamedClassifier{
		{Name: "rf", Classifier: &RandomForest{NEstimators: 8, MinSamplesLeaf: 1}},
		{Name: "gb", Classifier: &GradientBoosting{NEstimators: 10, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1}},
		{Name: "lr", Classifier: NewLogisticPipeline()},
	}}
	require.NoError(t, ensemble.Fit(context.Background(), X, y))
	return &Model{
		Version:     "test",
		Features:    []string{"Temp_C", "SpO2", "BPM"},
		TargetNames: []string{"Normal", "Abnormal"},
		Threshold:   0.45,
		TrainedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Evaluation:  &Evaluation{ROCAUC: 0.99, Accuracy: 0.97, TrainSamples: 90, TestSamples: 0},
		Ensemble:    ensemble,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	model := trainedModel(t)
	probe, _ := syntheticVitals(10, 5, 5)

	for _, name := range []string{"model.json", "model.json.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, Save(path, model))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, strings.HasSuffix(name, ".zst"), len(raw) >= 4 && string(raw[:4]) == string(zstdMagic))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, model.Version, loaded.Version)
			assert.Equal(t, model.Features, loaded.Features)
			assert.True(t, model.TrainedAt.Equal(loaded.TrainedAt))
			assert.InDelta(t, 0.45, loaded.Threshold, 1e-12)
			require.Len(t, loaded.Ensemble.Estimators, 3)
			_, ok := loaded.Ensemble.Member("gb")
			assert.True(t, ok)

			for _, x := range probe {
				want, err := model.PredictProba(x)
				require.NoError(t, err)
				got, err := loaded.PredictProba(x)
				require.NoError(t, err)
				assert.InDelta(t, want, got, 1e-12)
			}

			leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".model-*"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"garbage":      "not json",
		"version":      `{"format_version":99,"features":["Temp_C"],"estimators":[{"name":"lr","kind":"logistic_pipeline","logistic_pipeline":{}}]}`,
		"no features":  `{"format_version":1,"estimators":[{"name":"lr","kind":"logistic_pipeline","logistic_pipeline":{}}]}`,
		"no members":   `{"format_version":1,"features":["Temp_C"],"estimators":[]}`,
		"unknown kind": `{"format_version":1,"features":["Temp_C"],"estimators":[{"name":"svm","kind":"svm"}]}`,
		"empty member": `{"format_version":1,"features":["Temp_C"],"estimators":[{"name":"rf","kind":"random_forest"}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestModelPredictProbaChecksWidth(t *testing.T) {
	model := trainedModel(t)
	_, err := model.PredictProba([]float64{37})
	require.Error(t, err)

	var empty *Model
	_, err = empty.PredictProba([]float64{37, 98, 70})
	require.ErrorIs(t, err, ErrNotFitted)
}
