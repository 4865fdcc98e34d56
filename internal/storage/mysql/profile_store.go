package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
)

const profileColumns = `id, name, email, bio, phone, created_at, updated_at`

// ProfileStore 基于 SQL 数据库实现 profile.Store。
type ProfileStore struct {
	db *DB
}

// NewProfileStore 创建档案存储。连接池的生命周期由调用方管理。
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Create 实现 profile.Store 接口。
func (s *ProfileStore) Create(ctx context.Context, p *profile.Profile) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO profiles (name, email, bio, phone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Email, nullString(p.Bio), nullString(p.Phone), toMicros(p.CreatedAt), toMicros(p.UpdatedAt))
	if err != nil {
		if isDuplicateKey(err) {
			return profile.ErrDuplicateEmail
		}
		return storageError(err, "写入档案失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageError(err, "读取档案 ID 失败")
	}
	p.ID = id
	return nil
}

// Get 实现 profile.Store 接口。
func (s *ProfileStore) Get(ctx context.Context, id int64) (*profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, storageError(err, "查询档案失败")
	}
	return p, nil
}

// Update 实现 profile.Store 接口。
func (s *ProfileStore) Update(ctx context.Context, p *profile.Profile) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET name = ?, email = ?, bio = ?, phone = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Email, nullString(p.Bio), nullString(p.Phone), toMicros(p.UpdatedAt), p.ID)
	if err != nil {
		if isDuplicateKey(err) {
			return profile.ErrDuplicateEmail
		}
		return storageError(err, "更新档案失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "读取受影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	// MySQL 在值未变化时同样返回 0 行，需要再确认记录是否存在。
	if _, err := s.Get(ctx, p.ID); err != nil {
		return err
	}
	return nil
}

// Delete 实现 profile.Store 接口。
func (s *ProfileStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return storageError(err, "删除档案失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "读取受影响行数失败")
	}
	if affected == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// List 实现 profile.Store 接口。
func (s *ProfileStore) List(ctx context.Context, opts profile.ListOptions) ([]*profile.Profile, error) {
	var (
		where []string
		args  []any
	)
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMicros(opts.CreatedAfter))
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, toMicros(opts.CreatedBefore))
	}
	if opts.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(opts.Query)) + "%"
		where = append(where, "(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!')")
		args = append(args, pattern, pattern)
	}

	var query strings.Builder
	query.WriteString(`SELECT ` + profileColumns + ` FROM profiles`)
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY id ASC")
	switch {
	case opts.Limit > 0:
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	case opts.Offset > 0:
		query.WriteString(" LIMIT " + s.db.unboundedLimit() + " OFFSET ?")
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, storageError(err, "查询档案列表失败")
	}
	defer rows.Close()

	profiles := make([]*profile.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storageError(err, "解析档案失败")
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历档案失败")
	}
	return profiles, nil
}

// EmailTaken 实现 profile.Store 接口。
func (s *ProfileStore) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE email = ? AND id <> ?`, email, excludeID).Scan(&count); err != nil {
		return false, storageError(err, "检查邮箱失败")
	}
	return count > 0, nil
}

// Close 实现 profile.Store 接口。连接池由 DB 持有者关闭。
func (s *ProfileStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*profile.Profile, error) {
	var (
		p         profile.Profile
		bio       sql.NullString
		phone     sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &bio, &phone, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if bio.Valid {
		v := bio.String
		p.Bio = &v
	}
	if phone.Valid {
		v := phone.String
		p.Phone = &v
	}
	p.CreatedAt = fromMicros(createdAt)
	p.UpdatedAt = fromMicros(updatedAt)
	return &p, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func storageError(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("%s: %w", message, err), message)
}

var _ profile.Store = (*ProfileStore)(nil)
