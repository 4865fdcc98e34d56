package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect 标识底层数据库类型。
type Dialect string

// 支持的数据库方言。
const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// ErrUnsupportedDriver 表示配置了未知的驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// Config 描述数据库连接参数。
type Config struct {
	Driver          Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB 是带方言信息的连接池。
type DB struct {
	*sql.DB
	dialect Dialect
}

// Dialect 返回数据库方言。
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Open 建立连接池、验证连通性并执行尚未应用的迁移。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("数据库 DSN 不能为空")
	}
	var (
		raw *sql.DB
		err error
	)
	switch cfg.Driver {
	case DialectMySQL:
		raw, err = openMySQL(cfg)
	case DialectSQLite:
		raw, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}
	db := &DB{DB: raw, dialect: cfg.Driver}
	if db.dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 SQLite busy_timeout 失败: %w", err)
		}
	}
	if err := db.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openMySQL(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return db, nil
}

// openSQLite 只保留一个长期连接：写操作天然串行，":memory:" 数据库也不会随连接回收而丢失。
func openSQLite(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	return db, nil
}

// isDuplicateKey 判断错误是否由唯一约束冲突引起。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// unboundedLimit 是在只指定 OFFSET 时使用的 LIMIT 值。
func (db *DB) unboundedLimit() string {
	if db.dialect == DialectSQLite {
		return "-1"
	}
	return "18446744073709551615"
}

// insertIgnore 返回忽略主键冲突的插入语句前缀。
func (db *DB) insertIgnore() string {
	if db.dialect == DialectSQLite {
		return "INSERT OR IGNORE INTO"
	}
	return "INSERT IGNORE INTO"
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
