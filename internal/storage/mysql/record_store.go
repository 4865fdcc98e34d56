package mysql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
)

const recordColumns = `id, source, temp_c, spo2, bpm, label, code, probability, threshold, model_version, created_at`

// RecordStore 基于 SQL 数据库实现 prediction.Store。
type RecordStore struct {
	db *DB
}

// NewRecordStore 创建预测记录存储。
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Save 实现 prediction.Store 接口，重复 ID 会被忽略。
func (s *RecordStore) Save(ctx context.Context, r *prediction.Record) error {
	_, err := s.db.ExecContext(ctx, s.db.insertIgnore()+` prediction_records (`+recordColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.TempC, r.SpO2, r.BPM, r.Label, r.Code, r.Probability, r.Threshold, r.ModelVersion, toMicros(r.CreatedAt))
	if err != nil {
		return storageError(err, "保存预测记录失败")
	}
	return nil
}

// List 实现 prediction.Store 接口。
func (s *RecordStore) List(ctx context.Context, opts prediction.ListOptions) ([]*prediction.Record, error) {
	opts = opts.Normalize()
	var (
		where []string
		args  []any
	)
	if opts.Label != "" {
		where = append(where, "label = ?")
		args = append(args, opts.Label)
	}
	if opts.Source != "" {
		where = append(where, "source = ?")
		args = append(args, opts.Source)
	}
	query := `SELECT ` + recordColumns + ` FROM prediction_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "查询预测记录失败")
	}
	defer rows.Close()

	records := make([]*prediction.Record, 0)
	for rows.Next() {
		var (
			r         prediction.Record
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.TempC, &r.SpO2, &r.BPM, &r.Label, &r.Code,
			&r.Probability, &r.Threshold, &r.ModelVersion, &createdAt); err != nil {
			return nil, storageError(err, "解析预测记录失败")
		}
		r.CreatedAt = fromMicros(createdAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历预测记录失败")
	}
	return records, nil
}

// Stats 实现 prediction.Store 接口。
func (s *RecordStore) Stats(ctx context.Context) (prediction.Stats, error) {
	var (
		total    int
		abnormal sql.NullInt64
		oldest   sql.NullInt64
		newest   sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
       SUM(CASE WHEN label = ? THEN 1 ELSE 0 END),
       MIN(created_at),
       MAX(created_at)
FROM prediction_records`, dataset.LabelAbnormal)
	if err := row.Scan(&total, &abnormal, &oldest, &newest); err != nil {
		return prediction.Stats{}, storageError(err, "统计预测记录失败")
	}
	stats := prediction.Stats{
		Total:    total,
		Abnormal: int(abnormal.Int64),
		Normal:   total - int(abnormal.Int64),
	}
	if oldest.Valid {
		stats.OldestCreatedAt = fromMicros(oldest.Int64).Unix()
	}
	if newest.Valid {
		stats.NewestCreatedAt = fromMicros(newest.Int64).Unix()
	}
	return stats, nil
}

// Close 实现 prediction.Store 接口。
func (s *RecordStore) Close() error {
	return nil
}

var _ prediction.Store = (*RecordStore)(nil)
