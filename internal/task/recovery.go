package task

import (
	"context"

	"OpenEA-Agent/internal/agent"
)

// RecoveryHandler 定义了在任务执行出现不可重试错误时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回的结果会作为降级结果写入任务；返回 nil 则按失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*agent.Result, error)
}

// RecoveryFunc 把普通函数适配为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*agent.Result, error)

// Recover 实现 RecoveryHandler。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*agent.Result, error) {
	return f(ctx, task, cause)
}
