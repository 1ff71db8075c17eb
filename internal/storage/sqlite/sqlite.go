// Package sqlite 基于 modernc.org/sqlite 实现会话 KV 与审批台账，是默认的本地后端。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	user TEXT,
	k    TEXT,
	v    TEXT,
	PRIMARY KEY (user, k)
);

CREATE TABLE IF NOT EXISTS approvals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user       TEXT,
	action     TEXT,
	summary    TEXT,
	payload    TEXT,
	approved   INTEGER DEFAULT 0,
	created_at TEXT
);
`

// Store 实现 storage.Store。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开或创建数据库文件并完成表结构升级。
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// 单连接串行化所有写入。
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB 返回底层连接，主要用于测试。
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	cols, err := s.columns(ctx, "approvals")
	if err != nil {
		return err
	}
	if !cols["user"] {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE approvals ADD COLUMN user TEXT`); err != nil {
			return fmt.Errorf("add approvals.user: %w", err)
		}
	}
	if !cols["created_at"] {
		// ALTER 不允许非常量默认值，先加列再回填。
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE approvals ADD COLUMN created_at TEXT`); err != nil {
			return fmt.Errorf("add approvals.created_at: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE approvals SET created_at = STRFTIME('%Y-%m-%dT%H:%M:%SZ','now') WHERE created_at IS NULL`); err != nil {
			return fmt.Errorf("backfill approvals.created_at: %w", err)
		}
	}
	return nil
}

func (s *Store) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Get 实现 storage.KV。
func (s *Store) Get(ctx context.Context, user, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE user = ? AND k = ?`, user, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err, "读取会话数据失败")
	}
	return v.String, true, nil
}

// Set 实现 storage.KV。
func (s *Store) Set(ctx context.Context, user, key, value string) error {
	if _, err := s.db.ExecContext(ctx, `REPLACE INTO kv(user, k, v) VALUES(?, ?, ?)`, user, key, value); err != nil {
		return wrap(err, "写入会话数据失败")
	}
	return nil
}

// List 实现 storage.KV。
func (s *Store) List(ctx context.Context, user, prefix string) ([]storage.KVEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v FROM kv WHERE user = ? AND substr(k, 1, ?) = ? ORDER BY k`, user, len(prefix), prefix)
	if err != nil {
		return nil, wrap(err, "查询会话数据失败")
	}
	defer rows.Close()

	entries := make([]storage.KVEntry, 0)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrap(err, "解析会话数据失败")
		}
		entries = append(entries, storage.KVEntry{Key: k, Value: v.String})
	}
	return entries, rows.Err()
}

// Reset 实现 storage.KV。
func (s *Store) Reset(ctx context.Context, user string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE user = ?`, user); err != nil {
		return wrap(err, "重置会话失败")
	}
	return nil
}

// InsertApproval 实现 storage.Ledger。
func (s *Store) InsertApproval(ctx context.Context, user, action, summary string, payload json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals(user, action, summary, payload, approved, created_at) VALUES(?, ?, ?, ?, 0, ?)`,
		user, action, summary, string(storage.NormalizePayload(payload)), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, wrap(err, "写入审批记录失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap(err, "获取审批编号失败")
	}
	return id, nil
}

const selectApproval = `SELECT id, user, action, summary, payload, approved, created_at FROM approvals`

// ListApprovals 实现 storage.Ledger。
func (s *Store) ListApprovals(ctx context.Context, user string, approved bool) ([]storage.Approval, error) {
	rows, err := s.db.QueryContext(ctx, selectApproval+` WHERE approved = ? AND user = ? ORDER BY id`, boolToInt(approved), user)
	if err != nil {
		return nil, wrap(err, "查询审批记录失败")
	}
	defer rows.Close()

	out := make([]storage.Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetApproval 实现 storage.Ledger。
func (s *Store) GetApproval(ctx context.Context, id int64) (*storage.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, selectApproval+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storage.ApprovalNotFound(id)
	}
	return a, err
}

// MarkApproved 实现 storage.Ledger。
func (s *Store) MarkApproved(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET approved = 1 WHERE id = ? AND approved = 0`, id)
	if err != nil {
		return false, wrap(err, "更新审批状态失败")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err, "更新审批状态失败")
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetApproval(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeletePending 实现 storage.Ledger。
func (s *Store) DeletePending(ctx context.Context, user string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM approvals WHERE approved = 0 AND user = ?`, user)
	if err != nil {
		return 0, wrap(err, "清理待审批记录失败")
	}
	return res.RowsAffected()
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*storage.Approval, error) {
	var (
		a         storage.Approval
		user      sql.NullString
		action    sql.NullString
		summary   sql.NullString
		payload   sql.NullString
		approved  sql.NullInt64
		createdAt sql.NullString
	)
	if err := row.Scan(&a.ID, &user, &action, &summary, &payload, &approved, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, wrap(err, "解析审批记录失败")
	}
	a.User = user.String
	a.Action = action.String
	a.Summary = summary.String
	a.Payload = storage.NormalizePayload([]byte(payload.String))
	a.Approved = approved.Int64 != 0
	if createdAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt.String); err == nil {
			a.CreatedAt = ts.UTC()
		}
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrap(err error, msg string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}

var _ storage.Store = (*Store)(nil)
