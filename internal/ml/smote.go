package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE 通过在少数类样本与其近邻之间插值生成合成样本，使各类别数量与多数类持平。
type SMOTE struct {
	K    int
	Seed int64
}

// NewSMOTE 返回近邻数为 5 的 SMOTE。
func NewSMOTE(seed int64) *SMOTE {
	return &SMOTE{K: 5, Seed: seed}
}

// FitResample 返回原始样本加上合成样本，合成样本追加在末尾。
func (s *SMOTE) FitResample(X [][]float64, y []int) ([][]float64, []int, error) {
	if len(X) != len(y) {
		return nil, nil, fmt.Errorf("特征与标签数量不一致: %d != %d", len(X), len(y))
	}
	if len(X) == 0 {
		return nil, nil, errors.New("训练集为空")
	}
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	majority := 0
	for label, idx := range byClass {
		classes = append(classes, label)
		if len(idx) > majority {
			majority = len(idx)
		}
	}
	sort.Ints(classes)

	outX := make([][]float64, 0, majority*len(classes))
	outY := make([]int, 0, majority*len(classes))
	for i := range X {
		outX = append(outX, append([]float64(nil), X[i]...))
		outY = append(outY, y[i])
	}

	rng := rand.New(rand.NewSource(s.Seed))
	for _, label := range classes {
		members := byClass[label]
		need := majority - len(members)
		if need == 0 {
			continue
		}
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("类别 %d 仅有 %d 条样本，无法生成近邻插值", label, len(members))
		}
		k := s.K
		if k <= 0 {
			k = 5
		}
		if k > len(members)-1 {
			k = len(members) - 1
		}
		neighbours := nearestNeighbours(X, members, k)
		for n := 0; n < need; n++ {
			pick := rng.Intn(len(members))
			base := X[members[pick]]
			other := X[neighbours[pick][rng.Intn(k)]]
			gap := rng.Float64()
			synthetic := make([]float64, len(base))
			for j := range base {
				synthetic[j] = base[j] + gap*(other[j]-base[j])
			}
			outX = append(outX, synthetic)
			outY = append(outY, label)
		}
	}
	return outX, outY, nil
}

// nearestNeighbours 为每个成员找出同类中欧氏距离最近的 k 个样本（不含自身）。
func nearestNeighbours(X [][]float64, members []int, k int) [][]int {
	type candidate struct {
		index    int
		distance float64
	}
	out := make([][]int, len(members))
	candidates := make([]candidate, 0, len(members)-1)
	for a, i := range members {
		candidates = candidates[:0]
		for b, j := range members {
			if a == b {
				continue
			}
			candidates = append(candidates, candidate{index: j, distance: floats.Distance(X[i], X[j], 2)})
		}
		sort.Slice(candidates, func(p, q int) bool {
			if candidates[p].distance == candidates[q].distance {
				return candidates[p].index < candidates[q].index
			}
			return candidates[p].distance < candidates[q].distance
		})
		nearest := make([]int, k)
		for n := 0; n < k; n++ {
			nearest[n] = candidates[n].index
		}
		out[a] = nearest
	}
	return out
}
