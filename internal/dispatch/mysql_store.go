package dispatch

import (
	"database/sql"
	"io/fs"
	"sort"
	"strings"
	"time"

	"context"

	_ "github.com/go-sql-driver/mysql"

	"AgentCommerce-Chain/deploy/migrations"
	xerrors "AgentCommerce-Chain/internal/errors"
)

// MySQLStore 把去重集合落到 MySQL，多实例部署或进程重启后仍然
// 不会重复处理同一条备忘录。
type MySQLStore struct {
	db *sql.DB
}

// MySQLStoreConfig 描述连接参数。
type MySQLStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 创建 MySQLStore 并初始化表结构。
func NewMySQLStore(cfg MySQLStoreConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
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
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema 按文件名顺序执行内嵌迁移，每个文件一条语句。
func (s *MySQLStore) initSchema() error {
	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "枚举迁移文件失败")
	}
	sort.Strings(entries)
	for _, name := range entries {
		stmt, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件 "+name+" 失败")
		}
		if _, err := s.db.Exec(string(stmt)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移 "+name+" 失败")
		}
	}
	return nil
}

// MarkSeen 实现 SeenStore。利用主键冲突判断是否首次出现。
func (s *MySQLStore) MarkSeen(ctx context.Context, jobID, memoID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO dispatched_memos (job_id, memo_id, dispatched_at) VALUES (?, ?, ?)`,
		jobID, memoID, time.Now().Unix())
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入去重记录失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取去重写入结果失败")
	}
	return affected > 0, nil
}

// Seen 实现 SeenStore。
func (s *MySQLStore) Seen(ctx context.Context, jobID, memoID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatched_memos WHERE job_id = ? AND memo_id = ?`,
		jobID, memoID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询去重记录失败")
	}
	return true, nil
}

// Close 实现 SeenStore。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
