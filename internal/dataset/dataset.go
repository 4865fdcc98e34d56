package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// 原始数据中需要保留的列。
const (
	ColumnTempC   = "Temp_C"
	ColumnTempF   = "Temp_F"
	ColumnSpO2    = "SpO2"
	ColumnBPM     = "BPM"
	ColumnAnomaly = "Anomaly"
)

// 标签取值。
const (
	LabelNormal   = "Normal"
	LabelAbnormal = "Abnormal"
)

// FeatureColumns 是模型输入特征的固定顺序。
var FeatureColumns = []string{ColumnTempC, ColumnSpO2, ColumnBPM}

// TargetNames 按编码顺序给出类别名称。
var TargetNames = []string{LabelNormal, LabelAbnormal}

// Row 是一条体征记录，缺失值以 NaN 表示。
type Row struct {
	TempC   float64
	TempF   float64
	SpO2    float64
	BPM     float64
	Anomaly string
	Label   int
	raw     rawRow
}

type rawRow struct {
	tempC string
	tempF string
	spo2  string
	bpm   string
}

// Frame 保存一份数据集。HasTempF 在清洗后为 false。
type Frame struct {
	Rows     []Row
	HasTempF bool
	encoded  bool
}

// Len 返回行数。
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Load 从 CSV 文件读取原始数据。
func Load(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开数据集失败: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Read 解析带表头的 CSV，仅保留体征与标签列，其余列忽略。
func Read(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("数据集为空")
		}
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range []string{ColumnTempC, ColumnTempF, ColumnSpO2, ColumnBPM, ColumnAnomaly} {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("数据集缺少必要的列: %s", strings.Join(missing, ", "))
	}

	field := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	frame := &Frame{HasTempF: true}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 行失败: %w", line, err)
		}
		frame.Rows = append(frame.Rows, Row{
			TempC:   math.NaN(),
			TempF:   math.NaN(),
			SpO2:    math.NaN(),
			BPM:     math.NaN(),
			Anomaly: strings.TrimSpace(field(record, ColumnAnomaly)),
			Label:   -1,
			raw: rawRow{
				tempC: field(record, ColumnTempC),
				tempF: field(record, ColumnTempF),
				spo2:  field(record, ColumnSpO2),
				bpm:   field(record, ColumnBPM),
			},
		})
	}
	return frame, nil
}

// Features 返回按 FeatureColumns 顺序排列的特征矩阵与标签。必须在 Clean 之后调用。
func (f *Frame) Features() ([][]float64, []int, error) {
	if f == nil || !f.encoded {
		return nil, nil, errors.New("数据集尚未清洗")
	}
	X := make([][]float64, len(f.Rows))
	y := make([]int, len(f.Rows))
	for i, row := range f.Rows {
		X[i] = []float64{row.TempC, row.SpO2, row.BPM}
		y[i] = row.Label
	}
	return X, y, nil
}
