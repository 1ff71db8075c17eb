// Package approval 管理不可逆操作的人工审批：登记待审批请求、审批通过后
// 分发给对应的执行器。请求只有 pending 与 approved 两种状态，approved 为终态。
package approval

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/pkg/logger"
)

// Handler 在审批通过后执行真实动作。
type Handler func(ctx context.Context, req storage.Approval) (any, error)

// Outcome 是一次审批及其后续动作的结果。动作失败不会回滚审批。
type Outcome struct {
	Approval storage.Approval `json:"approval"`
	Executed bool             `json:"executed"`
	Result   any              `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Gate 是审批闸门。同一用户的台账变更串行执行，不同用户互不阻塞。
type Gate struct {
	ledger   storage.Ledger
	handlers map[string]Handler
	locks    sync.Map
}

// Option 定义 Gate 的可选配置。
type Option func(*Gate)

// WithHandler 为指定动作注册审批后的执行器。
func WithHandler(action string, h Handler) Option {
	return func(g *Gate) {
		if h != nil {
			g.handlers[action] = h
		}
	}
}

// New 创建审批闸门。
func New(ledger storage.Ledger, opts ...Option) *Gate {
	g := &Gate{ledger: ledger, handlers: make(map[string]Handler)}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *Gate) lock(user string) func() {
	v, _ := g.locks.LoadOrStore(user, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Require 登记一条待审批请求并返回编号。相同载荷重复登记会得到多条记录。
func (g *Gate) Require(ctx context.Context, user, action, summary string, payload any) (int64, error) {
	if strings.TrimSpace(user) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "用户不能为空")
	}
	if strings.TrimSpace(action) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "审批动作不能为空")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化审批载荷失败")
	}
	if err := ctx.Err(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeTimeout, err, "登记审批前上下文已结束")
	}

	unlock := g.lock(user)
	id, err := g.ledger.InsertApproval(ctx, user, action, summary, raw)
	unlock()
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("approval_created", "approval_id", id, "user", user, "action", action)
	return id, nil
}

// ListPending 按编号升序返回用户的待审批请求。
func (g *Gate) ListPending(ctx context.Context, user string) ([]storage.Approval, error) {
	return g.ledger.ListApprovals(ctx, user, false)
}

// ListApproved 按编号升序返回用户已通过的请求。
func (g *Gate) ListApproved(ctx context.Context, user string) ([]storage.Approval, error) {
	return g.ledger.ListApprovals(ctx, user, true)
}

// Get 返回指定审批。
func (g *Gate) Get(ctx context.Context, id int64) (*storage.Approval, error) {
	return g.ledger.GetApproval(ctx, id)
}

// Approve 把请求置为已通过并返回快照。重复审批不会报错。
func (g *Gate) Approve(ctx context.Context, id int64) (*storage.Approval, error) {
	snapshot, _, err := g.approve(ctx, id)
	return snapshot, err
}

func (g *Gate) approve(ctx context.Context, id int64) (*storage.Approval, bool, error) {
	current, err := g.ledger.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}

	unlock := g.lock(current.User)
	changed, err := g.ledger.MarkApproved(ctx, id)
	unlock()
	if err != nil {
		return nil, false, err
	}
	current.Approved = true
	if changed {
		logger.Audit().Info("approval_approved", "approval_id", id, "user", current.User, "action", current.Action)
	}
	return current, changed, nil
}

// ApproveAll 审批用户当前所有待审批请求，返回本次实际通过的数量。
func (g *Gate) ApproveAll(ctx context.Context, user string) (int, error) {
	approved, err := g.approveAll(ctx, user)
	return len(approved), err
}

func (g *Gate) approveAll(ctx context.Context, user string) ([]storage.Approval, error) {
	unlock := g.lock(user)
	defer unlock()

	pending, err := g.ledger.ListApprovals(ctx, user, false)
	if err != nil {
		return nil, err
	}
	approved := make([]storage.Approval, 0, len(pending))
	for _, req := range pending {
		changed, err := g.ledger.MarkApproved(ctx, req.ID)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return approved, err
		}
		if !changed {
			continue
		}
		req.Approved = true
		approved = append(approved, req)
	}
	if len(approved) > 0 {
		logger.Audit().Info("approval_approved_all", "user", user, "count", len(approved))
	}
	return approved, nil
}

// Execute 审批并在首次通过时执行已注册的动作。
func (g *Gate) Execute(ctx context.Context, id int64) (*Outcome, error) {
	snapshot, changed, err := g.approve(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Approval: *snapshot}
	if changed {
		g.dispatch(ctx, out)
	}
	return out, nil
}

// ExecuteAll 审批用户所有待审批请求并依次执行对应动作。
func (g *Gate) ExecuteAll(ctx context.Context, user string) ([]Outcome, error) {
	approved, err := g.approveAll(ctx, user)
	outcomes := make([]Outcome, 0, len(approved))
	for _, req := range approved {
		out := Outcome{Approval: req}
		g.dispatch(ctx, &out)
		outcomes = append(outcomes, out)
	}
	return outcomes, err
}

func (g *Gate) dispatch(ctx context.Context, out *Outcome) {
	h, ok := g.handlers[out.Approval.Action]
	if !ok {
		return
	}
	out.Executed = true
	result, err := h(ctx, out.Approval)
	if err != nil {
		out.Error = err.Error()
		logger.Audit().Warn("approval_action_failed",
			"approval_id", out.Approval.ID,
			"action", out.Approval.Action,
			"error", err)
		return
	}
	out.Result = result
	logger.Audit().Info("approval_action_executed", "approval_id", out.Approval.ID, "action", out.Approval.Action)
}

// ClearPending 删除用户所有待审批请求，已通过的请求不受影响。
func (g *Gate) ClearPending(ctx context.Context, user string) (int64, error) {
	unlock := g.lock(user)
	n, err := g.ledger.DeletePending(ctx, user)
	unlock()
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("approval_cleared", "user", user, "count", n)
	return n, nil
}
