package dataset

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var nonNumeric = regexp.MustCompile(`[^0-9.+\-]`)

// CleanReport 记录清洗过程中每一步影响的行数。
type CleanReport struct {
	RowsRead             int `json:"rows_read"`
	DuplicatesDropped    int `json:"duplicates_dropped"`
	SpO2Clipped          int `json:"spo2_clipped"`
	SpO2OutliersDropped  int `json:"spo2_outliers_dropped"`
	SpO2Imputed          int `json:"spo2_imputed"`
	BPMImputed           int `json:"bpm_imputed"`
	UnknownLabelsDropped int `json:"unknown_labels_dropped"`
	MissingTempDropped   int `json:"missing_temp_dropped"`
	RowsKept             int `json:"rows_kept"`
	Normal               int `json:"normal"`
	Abnormal             int `json:"abnormal"`
}

// Clean 按固定顺序清洗数据集并返回新的 Frame，原 Frame 不会被修改。
func Clean(in *Frame) (*Frame, CleanReport) {
	var report CleanReport
	if in == nil {
		return &Frame{encoded: true}, report
	}
	report.RowsRead = len(in.Rows)

	rows := make([]Row, 0, len(in.Rows))
	for _, row := range in.Rows {
		row.TempC = parseTemperature(row.raw.tempC)
		row.TempF = parseTemperature(row.raw.tempF)
		row.SpO2 = parseNumber(row.raw.spo2)
		row.BPM = parseNumber(row.raw.bpm)
		rows = append(rows, row)
	}

	rows, report.DuplicatesDropped = dropDuplicates(rows)

	kept := rows[:0]
	for _, row := range rows {
		if row.SpO2 > 100 {
			row.SpO2 = 100.0
			report.SpO2Clipped++
		}
		if !math.IsNaN(row.SpO2) && row.SpO2 < 50 {
			report.SpO2OutliersDropped++
			continue
		}
		kept = append(kept, row)
	}
	rows = kept

	report.SpO2Imputed = imputeByClass(rows,
		func(r *Row) float64 { return r.SpO2 },
		func(r *Row, v float64) { r.SpO2 = v })
	report.BPMImputed = imputeByClass(rows,
		func(r *Row) float64 { return r.BPM },
		func(r *Row, v float64) { r.BPM = v })

	out := &Frame{Rows: make([]Row, 0, len(rows)), encoded: true}
	for _, row := range rows {
		row.TempF = math.NaN()
		switch row.Anomaly {
		case LabelNormal:
			row.Label = 0
		case LabelAbnormal:
			row.Label = 1
		default:
			report.UnknownLabelsDropped++
			continue
		}
		if math.IsNaN(row.TempC) {
			report.MissingTempDropped++
			continue
		}
		if row.Label == 1 {
			report.Abnormal++
		} else {
			report.Normal++
		}
		out.Rows = append(out.Rows, row)
	}
	report.RowsKept = len(out.Rows)
	return out, report
}

// parseTemperature 去掉数字、小数点与正负号以外的字符后再解析，例如 "37.2°C"。
func parseTemperature(raw string) float64 {
	return parseNumber(nonNumeric.ReplaceAllString(raw, ""))
}

func parseNumber(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return math.NaN()
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return math.NaN()
	}
	return value
}

func dropDuplicates(rows []Row) ([]Row, int) {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	dropped := 0
	for _, row := range rows {
		key := strings.Join([]string{
			formatKey(row.TempC),
			formatKey(row.TempF),
			formatKey(row.SpO2),
			formatKey(row.BPM),
			row.Anomaly,
		}, "\x1f")
		if _, ok := seen[key]; ok {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out, dropped
}

func formatKey(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// imputeByClass 先用同一标签下的中位数填充缺失值，仍缺失的再用整列中位数填充。
func imputeByClass(rows []Row, get func(*Row) float64, set func(*Row, float64)) int {
	byClass := make(map[string][]float64)
	for i := range rows {
		v := get(&rows[i])
		if math.IsNaN(v) || rows[i].Anomaly == "" {
			continue
		}
		byClass[rows[i].Anomaly] = append(byClass[rows[i].Anomaly], v)
	}
	classMedian := make(map[string]float64, len(byClass))
	for class, values := range byClass {
		classMedian[class] = Median(values)
	}

	filled := 0
	for i := range rows {
		if !math.IsNaN(get(&rows[i])) {
			continue
		}
		if m, ok := classMedian[rows[i].Anomaly]; ok && !math.IsNaN(m) {
			set(&rows[i], m)
			filled++
		}
	}

	var column []float64
	for i := range rows {
		if v := get(&rows[i]); !math.IsNaN(v) {
			column = append(column, v)
		}
	}
	overall := Median(column)
	if math.IsNaN(overall) {
		return filled
	}
	for i := range rows {
		if math.IsNaN(get(&rows[i])) {
			set(&rows[i], overall)
			filled++
		}
	}
	return filled
}

// Median 返回中位数，偶数个元素时取中间两个的平均值，空切片返回 NaN。
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
