package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split 保存训练集与测试集。
type Split struct {
	XTrain [][]float64
	YTrain []int
	XTest  [][]float64
	YTest  []int
}

// StratifiedSplit 按类别比例切分数据集，每个类别至少需要两条样本。
func StratifiedSplit(X [][]float64, y []int, testSize float64, seed int64) (*Split, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("特征与标签数量不一致: %d != %d", len(X), len(y))
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, fmt.Errorf("测试集比例必须位于 (0, 1) 区间: %v", testSize)
	}
	n := len(y)
	if n == 0 {
		return nil, errors.New("数据集为空")
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for label, idx := range byClass {
		if len(idx) < 2 {
			return nil, fmt.Errorf("类别 %d 仅有 %d 条样本，无法分层切分", label, len(idx))
		}
		classes = append(classes, label)
	}
	sort.Ints(classes)

	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < len(classes) || n-nTest < len(classes) {
		return nil, fmt.Errorf("样本数 %d 不足以按 %.2f 的比例分层切分 %d 个类别", n, testSize, len(classes))
	}
	alloc := allocate(classes, byClass, nTest, n)

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, label := range classes {
		idx := append([]int(nil), byClass[label]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		testIdx = append(testIdx, idx[:alloc[label]]...)
		trainIdx = append(trainIdx, idx[alloc[label]:]...)
	}
	rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
	rng.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })

	split := &Split{}
	for _, i := range trainIdx {
		split.XTrain = append(split.XTrain, append([]float64(nil), X[i]...))
		split.YTrain = append(split.YTrain, y[i])
	}
	for _, i := range testIdx {
		split.XTest = append(split.XTest, append([]float64(nil), X[i]...))
		split.YTest = append(split.YTest, y[i])
	}
	return split, nil
}

// allocate 按最大余数法把测试集名额分配给各类别，且每个类别至少保留一条训练样本。
func allocate(classes []int, byClass map[int][]int, nTest, n int) map[int]int {
	type share struct {
		label     int
		remainder float64
	}
	alloc := make(map[int]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, label := range classes {
		exact := float64(nTest) * float64(len(byClass[label])) / float64(n)
		base := int(math.Floor(exact))
		if base < 1 {
			base = 1
		}
		if base > len(byClass[label])-1 {
			base = len(byClass[label]) - 1
		}
		alloc[label] = base
		assigned += base
		shares = append(shares, share{label: label, remainder: exact - math.Floor(exact)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].remainder > shares[j].remainder })
	for i := 0; assigned < nTest && i < len(shares)*2; i++ {
		s := shares[i%len(shares)]
		if alloc[s.label] < len(byClass[s.label])-1 {
			alloc[s.label]++
			assigned++
		}
	}
	return alloc
}
