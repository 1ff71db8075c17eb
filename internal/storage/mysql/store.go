package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
)

// Store 使用 MySQL 实现 storage.Store，适合多实例共享审批台账。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 建立连接池并执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 存储失败")
	}
	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 MySQL 迁移失败")
	}
	return s, nil
}

// Get 实现 storage.KV。
func (s *Store) Get(ctx context.Context, user, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_entries WHERE user_id = ? AND k = ?`, user, key).Scan(&v)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话数据失败")
	}
	return v.String, true, nil
}

// Set 实现 storage.KV。
func (s *Store) Set(ctx context.Context, user, key, value string) error {
	const stmt = `INSERT INTO kv_entries (user_id, k, v) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE v = VALUES(v)`
	if _, err := s.db.ExecContext(ctx, stmt, user, key, value); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话数据失败")
	}
	return nil
}

// List 实现 storage.KV。
func (s *Store) List(ctx context.Context, user, prefix string) ([]storage.KVEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM kv_entries WHERE user_id = ? AND k LIKE ? ORDER BY k`,
		user, escapeLike(prefix)+"%")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话数据失败")
	}
	defer rows.Close()

	entries := make([]storage.KVEntry, 0)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话数据失败")
		}
		entries = append(entries, storage.KVEntry{Key: k, Value: v.String})
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话数据失败")
	}
	return entries, nil
}

// Reset 实现 storage.KV。
func (s *Store) Reset(ctx context.Context, user string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE user_id = ?`, user); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "重置会话失败")
	}
	return nil
}

// InsertApproval 实现 storage.Ledger。
func (s *Store) InsertApproval(ctx context.Context, user, action, summary string, payload json.RawMessage) (int64, error) {
	const stmt = `INSERT INTO approvals (user_id, action, summary, payload, approved, created_at)
        VALUES (?, ?, ?, ?, 0, ?)`
	res, err := s.db.ExecContext(ctx, stmt, user, action, summary,
		string(storage.NormalizePayload(payload)), s.now().UTC().UnixMilli())
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入审批记录失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取审批编号失败")
	}
	return id, nil
}

const selectApprovals = `SELECT id, user_id, action, summary, payload, approved, created_at FROM approvals`

// ListApprovals 实现 storage.Ledger。
func (s *Store) ListApprovals(ctx context.Context, user string, approved bool) ([]storage.Approval, error) {
	flag := 0
	if approved {
		flag = 1
	}
	rows, err := s.db.QueryContext(ctx, selectApprovals+` WHERE user_id = ? AND approved = ? ORDER BY id ASC`, user, flag)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审批记录失败")
	}
	defer rows.Close()

	out := make([]storage.Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析审批记录失败")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历审批记录失败")
	}
	return out, nil
}

// GetApproval 实现 storage.Ledger。
func (s *Store) GetApproval(ctx context.Context, id int64) (*storage.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, selectApprovals+` WHERE id = ?`, id))
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, storage.ApprovalNotFound(id)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审批记录失败")
	}
	return a, nil
}

// MarkApproved 实现 storage.Ledger。
func (s *Store) MarkApproved(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET approved = 1 WHERE id = ? AND approved = 0`, id)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新审批状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.GetApproval(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeletePending 实现 storage.Ledger。
func (s *Store) DeletePending(ctx context.Context, user string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM approvals WHERE user_id = ? AND approved = 0`, user)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理待审批记录失败")
	}
	return res.RowsAffected()
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*storage.Approval, error) {
	var (
		a         storage.Approval
		summary   sql.NullString
		payload   sql.NullString
		approved  int64
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.User, &a.Action, &summary, &payload, &approved, &createdAt); err != nil {
		return nil, err
	}
	a.Summary = summary.String
	a.Payload = storage.NormalizePayload([]byte(payload.String))
	a.Approved = approved != 0
	if createdAt > 0 {
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
	}
	return &a, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ storage.Store = (*Store)(nil)
