// Package storage 定义用户维度的 KV 与审批台账契约，并提供内存实现。
// 具体后端位于 sqlite、mysql、redis 子包。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	xerrors "OpenEA-Agent/internal/errors"
)

// Approval 是审批台账中的一行。
type Approval struct {
	ID        int64           `json:"id"`
	User      string          `json:"user"`
	Action    string          `json:"action"`
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload"`
	Approved  bool            `json:"approved"`
	CreatedAt time.Time       `json:"created_at"`
}

// KVEntry 是一条会话键值。
type KVEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KV 是按用户隔离的键值存储，(user, key) 唯一，后写覆盖先写。
type KV interface {
	Get(ctx context.Context, user, key string) (string, bool, error)
	Set(ctx context.Context, user, key, value string) error
	// List 返回指定前缀的条目，按 key 升序。
	List(ctx context.Context, user, prefix string) ([]KVEntry, error)
	// Reset 原子删除用户的全部条目。
	Reset(ctx context.Context, user string) error
}

// Ledger 是审批台账。InsertApproval 分配严格递增且不复用的 ID。
type Ledger interface {
	InsertApproval(ctx context.Context, user, action, summary string, payload json.RawMessage) (int64, error)
	// ListApprovals 按 ID 升序返回指定用户与状态的审批。
	ListApprovals(ctx context.Context, user string, approved bool) ([]Approval, error)
	GetApproval(ctx context.Context, id int64) (*Approval, error)
	// MarkApproved 把审批置为已通过，返回本次调用是否发生了状态迁移。
	MarkApproved(ctx context.Context, id int64) (bool, error)
	// DeletePending 删除用户所有未通过的审批，返回删除数量。
	DeletePending(ctx context.Context, user string) (int64, error)
}

// Store 同时提供 KV 与审批台账。
type Store interface {
	KV
	Ledger
	io.Closer
}

// ApprovalNotFound 构造审批不存在的错误。
func ApprovalNotFound(id int64) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("审批记录不存在: %d", id),
		xerrors.WithMetadata("approval_id", fmt.Sprint(id)))
}

// IsNotFound 判断错误是否为资源不存在。
func IsNotFound(err error) bool {
	return xerrors.HasCode(err, xerrors.CodeNotFound)
}

// GetOr 读取键值，不存在时返回默认值。
func GetOr(ctx context.Context, kv KV, user, key, def string) (string, error) {
	v, ok, err := kv.Get(ctx, user, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// NormalizePayload 保证载荷是合法的 JSON，旧数据中的非 JSON 文本会被编码为字符串。
func NormalizePayload(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(string(raw))
	return json.RawMessage(encoded)
}

type composite struct {
	KV
	Ledger
}

// Compose 把独立的 KV 与台账组合为 Store，Close 会关闭两者。
func Compose(kv KV, ledger Ledger) Store {
	return &composite{KV: kv, Ledger: ledger}
}

func (c *composite) Close() error {
	var err error
	if closer, ok := c.KV.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	if closer, ok := c.Ledger.(io.Closer); ok && any(c.Ledger) != any(c.KV) {
		err = errors.Join(err, closer.Close())
	}
	return err
}
