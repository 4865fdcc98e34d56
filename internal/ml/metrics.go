package ml

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ClassMetrics 是单个类别的精确率、召回率、F1 与样本数。
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// ClassificationReport 汇总二分类评估结果。
type ClassificationReport struct {
	TargetNames []string       `json:"target_names"`
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Confusion   [2][2]int      `json:"confusion_matrix"`
}

// NewClassificationReport 根据真实标签与预测标签计算报告，分母为 0 的指标记为 0。
func NewClassificationReport(yTrue, yPred []int, targetNames []string) ClassificationReport {
	report := ClassificationReport{TargetNames: targetNames, Classes: make([]ClassMetrics, 2)}
	total := len(yTrue)
	correct := 0
	for i := range yTrue {
		report.Confusion[yTrue[i]][yPred[i]]++
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	if total > 0 {
		report.Accuracy = float64(correct) / float64(total)
	}

	for c := 0; c < 2; c++ {
		tp := report.Confusion[c][c]
		predicted := report.Confusion[0][c] + report.Confusion[1][c]
		actual := report.Confusion[c][0] + report.Confusion[c][1]
		m := ClassMetrics{Support: actual}
		m.Precision = ratio(tp, predicted)
		m.Recall = ratio(tp, actual)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[c] = m

		report.MacroAvg.Precision += m.Precision / 2
		report.MacroAvg.Recall += m.Recall / 2
		report.MacroAvg.F1 += m.F1 / 2
		if total > 0 {
			w := float64(actual) / float64(total)
			report.WeightedAvg.Precision += w * m.Precision
			report.WeightedAvg.Recall += w * m.Recall
			report.WeightedAvg.F1 += w * m.F1
		}
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total
	return report
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// String 以表格形式输出报告。
func (r ClassificationReport) String() string {
	names := r.TargetNames
	if len(names) < 2 {
		names = []string{"0", "1"}
	}
	width := len("weighted avg")
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for c, m := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, names[c], m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "macro avg", r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, "weighted avg", r.WeightedAvg.Precision, r.WeightedAvg.Recall, r.WeightedAvg.F1, r.WeightedAvg.Support)
	return b.String()
}

// ROCAUC 通过秩统计计算 ROC 曲线下面积，分数相同的样本取平均秩。只有一个类别时返回 NaN。
func ROCAUC(yTrue []int, scores []float64) float64 {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	var positives, negatives, rankSum float64
	for i, label := range yTrue {
		if label == 1 {
			positives++
			rankSum += ranks[i]
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return math.NaN()
	}
	return (rankSum - positives*(positives+1)/2) / (positives * negatives)
}
