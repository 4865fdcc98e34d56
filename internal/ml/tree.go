package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Node 是扁平化存储的树节点，Feature 为 -1 表示叶子。
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree 是一棵二叉决策树。分类树的叶子值为正类占比，回归树的叶子值由调用方决定。
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict 返回样本落入叶子的值。
func (t *Tree) Predict(x []float64) float64 {
	if t == nil || len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Depth 返回树的最大深度，仅含根节点时为 0。
func (t *Tree) Depth() int {
	if t == nil || len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return 0
		}
		l, r := walk(node.Left), walk(node.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

// treeParams 控制树的生长。maxDepth <= 0 表示不限深度。
type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
}

// leafFunc 根据落入叶子的样本下标计算叶子值。
type leafFunc func(indices []int) float64

// treeBuilder 以平方误差作为划分准则；对 0/1 目标而言它与 Gini 不纯度只差一个常数因子。
type treeBuilder struct {
	X      [][]float64
	target []float64
	params treeParams
	leaf   leafFunc
	rng    *rand.Rand
	nodes  []Node
}

func buildTree(X [][]float64, target []float64, indices []int, params treeParams, leaf leafFunc, rng *rand.Rand) *Tree {
	if params.minSamplesLeaf < 1 {
		params.minSamplesLeaf = 1
	}
	nFeatures := len(X[0])
	if params.maxFeatures <= 0 || params.maxFeatures > nFeatures {
		params.maxFeatures = nFeatures
	}
	if leaf == nil {
		leaf = func(idx []int) float64 { return meanOf(target, idx) }
	}
	b := &treeBuilder{X: X, target: target, params: params, leaf: leaf, rng: rng}
	b.grow(indices, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(indices []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	if (b.params.maxDepth > 0 && depth >= b.params.maxDepth) || len(indices) < 2*b.params.minSamplesLeaf || b.pure(indices) {
		b.nodes[id].Value = b.leaf(indices)
		return id
	}

	feature, threshold, ok := b.bestSplit(indices)
	if !ok {
		b.nodes[id].Value = b.leaf(indices)
		return id
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: b.leaf(indices)}
	return id
}

func (b *treeBuilder) pure(indices []int) bool {
	first := b.target[indices[0]]
	for _, i := range indices[1:] {
		if b.target[i] != first {
			return false
		}
	}
	return true
}

// bestSplit 依次检查随机排列后的特征，至少检查 maxFeatures 个，若尚未找到合法划分则继续检查剩余特征。
func (b *treeBuilder) bestSplit(indices []int) (int, float64, bool) {
	nFeatures := len(b.X[0])
	order := make([]int, nFeatures)
	for i := range order {
		order[i] = i
	}
	if b.rng != nil && b.params.maxFeatures < nFeatures {
		b.rng.Shuffle(nFeatures, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var totalSum, totalSq float64
	for _, i := range indices {
		v := b.target[i]
		totalSum += v
		totalSq += v * v
	}
	n := float64(len(indices))
	parentSSE := totalSq - totalSum*totalSum/n

	bestFeature, bestThreshold := -1, 0.0
	bestSSE := parentSSE
	sorted := make([]int, len(indices))
	minLeaf := b.params.minSamplesLeaf

	for checked, feature := range order {
		if checked >= b.params.maxFeatures && bestFeature >= 0 {
			break
		}
		copy(sorted, indices)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][feature] < b.X[sorted[c]][feature] })

		var leftSum, leftSq float64
		for k := 0; k < len(sorted)-1; k++ {
			v := b.target[sorted[k]]
			leftSum += v
			leftSq += v * v
			nLeft := k + 1
			if nLeft < minLeaf || len(sorted)-nLeft < minLeaf {
				continue
			}
			cur, next := b.X[sorted[k]][feature], b.X[sorted[k+1]][feature]
			if next <= cur {
				continue
			}
			nl, nr := float64(nLeft), n-float64(nLeft)
			rightSum, rightSq := totalSum-leftSum, totalSq-leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if sse < bestSSE-1e-12 {
				bestSSE = sse
				bestFeature = feature
				bestThreshold = cur + (next-cur)/2
				if bestThreshold == next {
					bestThreshold = cur
				}
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

func meanOf(values []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += values[i]
	}
	return sum / float64(len(indices))
}

func sqrtFeatures(n int) int {
	k := int(math.Sqrt(float64(n)))
	if k < 1 {
		return 1
	}
	return k
}
