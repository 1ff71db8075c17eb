package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OpenEA-Agent/internal/approval"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/knowledge"
	"OpenEA-Agent/internal/observability/metrics"
	"OpenEA-Agent/internal/planner"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/tools"
	"OpenEA-Agent/pkg/logger"
)

// 会话中记录的最近一次执行信息。
const (
	SessionLastTask = "last_task"
	SessionLastPlan = "last_plan"
)

// groundingTitle 是文档检索结果在轨迹中的标题。
const groundingTitle = "RAG answer"

// genericDetail 是没有专属能力的步骤写入轨迹的占位内容。
const genericDetail = "performed generic step"

// defaultStepTimeout 是单个能力调用的默认超时。
const defaultStepTimeout = 5 * time.Second

// Grounding 提供基于文档的问答能力。
type Grounding interface {
	Answer(question string) knowledge.Answer
}

// StepObserver 在每个步骤结束后被调用。
type StepObserver func(step, status string, duration time.Duration)

// Agent 按计划依次调用能力，记录轨迹与产物，是系统的业务核心。
type Agent struct {
	tools       *tools.Registry
	gate        *approval.Gate
	planner     *planner.Planner
	grounding   Grounding
	session     storage.KV
	stepTimeout time.Duration
	observe     StepObserver
	steps       map[planner.Step]stepFunc
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithGrounding 配置文档问答，知识类任务会先检索再执行计划。
func WithGrounding(g Grounding) Option {
	return func(a *Agent) {
		a.grounding = g
	}
}

// WithPlanner 替换默认的规划器。
func WithPlanner(p *planner.Planner) Option {
	return func(a *Agent) {
		if p != nil {
			a.planner = p
		}
	}
}

// WithStepTimeout 设置单个步骤的执行超时，非正数表示使用默认值。
func WithStepTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.stepTimeout = timeout
		}
	}
}

// WithSessionStore 在每次执行后把任务与计划写入用户会话。
func WithSessionStore(kv storage.KV) Option {
	return func(a *Agent) {
		a.session = kv
	}
}

// WithStepObserver 替换步骤指标的上报方式。
func WithStepObserver(fn StepObserver) Option {
	return func(a *Agent) {
		if fn != nil {
			a.observe = fn
		}
	}
}

// New 创建一个 Agent。
func New(registry *tools.Registry, gate *approval.Gate, opts ...Option) *Agent {
	ag := &Agent{
		tools:       registry,
		gate:        gate,
		planner:     planner.New(),
		stepTimeout: defaultStepTimeout,
		observe:     metrics.ObserveStep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	ag.steps = ag.stepTable()
	return ag
}

// Planner 返回当前使用的规划器。
func (a *Agent) Planner() *planner.Planner {
	return a.planner
}

// Execute 规划并执行任务。单个步骤失败只会体现在轨迹中，不会中断后续步骤。
func (a *Agent) Execute(ctx context.Context, user, task string) (*Result, error) {
	if a.tools == nil || a.gate == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置能力集合或审批闸门")
	}
	if strings.TrimSpace(user) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户不能为空")
	}
	if strings.TrimSpace(task) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务内容不能为空")
	}

	plan := a.planner.Plan(task)
	res := &Result{
		User:      user,
		Task:      task,
		Plan:      plan.Render(),
		Intents:   plan.Intents,
		Steps:     plan.Steps,
		Trace:     make([]Entry, 0, len(plan.Steps)+1),
		Artifacts: make([]Artifact, 0, len(plan.Steps)+1),
	}

	if a.grounding != nil && plan.Has(planner.IntentKnowledge) {
		answer := a.grounding.Answer(task)
		res.Artifacts = append(res.Artifacts, Artifact{
			Key:       ArtifactGroundedAnswer,
			Value:     answer.Text,
			Citations: answer.Citations,
		})
		res.Trace = append(res.Trace, Entry{Title: groundingTitle, Detail: answer.Text})
	}

	log := logger.Named("agent")
	state := &scratch{user: user, task: task}
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			res.Trace = append(res.Trace, failedEntry(string(step), xerrors.Wrap(xerrors.CodeTimeout, err, "任务已取消")))
			continue
		}
		fn, ok := a.steps[step]
		if !ok {
			res.Trace = append(res.Trace, Entry{Title: string(step), Detail: genericDetail})
			a.observe(string(step), metrics.StepOK, 0)
			continue
		}

		started := time.Now()
		out, err := a.dispatch(ctx, step, fn, *state)
		if err == nil && out.approval != nil {
			out, err = a.register(ctx, user, *out.approval)
		}
		elapsed := time.Since(started)
		if err != nil {
			log.Warn("步骤执行失败",
				slog.String("user", user),
				slog.String("step", string(step)),
				slog.String("code", string(xerrors.CodeOf(err))),
				slog.Any("error", err))
			res.Trace = append(res.Trace, failedEntry(string(step), err))
			a.observe(string(step), metrics.StepFailed, elapsed)
			continue
		}
		if out.update != nil {
			out.update(state)
		}
		if out.artifact != nil {
			res.Artifacts = append(res.Artifacts, *out.artifact)
		}
		res.Trace = append(res.Trace, Entry{Title: string(step), Detail: out.detail})
		a.observe(string(step), metrics.StepOK, elapsed)
	}

	a.remember(ctx, res)
	return res, nil
}

// dispatch 在独立 goroutine 中执行步骤，超时或 panic 都会转化为错误。
func (a *Agent) dispatch(ctx context.Context, step planner.Step, fn stepFunc, state scratch) (stepOutput, error) {
	stepCtx, cancel := context.WithTimeout(ctx, a.stepTimeout)
	defer cancel()

	type outcome struct {
		out stepOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: xerrors.New(xerrors.CodeCapabilityFailure, fmt.Sprintf("步骤 %s 发生异常: %v", step, p))}
			}
		}()
		out, err := fn(stepCtx, state)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return stepOutput{}, classify(step, o.err)
		}
		return o.out, nil
	case <-stepCtx.Done():
		if stdErrors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return stepOutput{}, xerrors.Wrap(xerrors.CodeTimeout, stepCtx.Err(), fmt.Sprintf("步骤 %s 执行超时", step))
		}
		return stepOutput{}, xerrors.Wrap(xerrors.CodeCapabilityFailure, stepCtx.Err(), fmt.Sprintf("步骤 %s 被取消", step))
	}
}

// register 在步骤成功返回后串行登记审批，超时的步骤不会留下审批记录。
func (a *Agent) register(ctx context.Context, user string, p pendingApproval) (stepOutput, error) {
	id, err := a.gate.Require(ctx, user, p.action, p.summary, p.payload)
	if err != nil {
		return stepOutput{}, err
	}
	return p.complete(id), nil
}

func classify(step planner.Step, err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("步骤 %s 执行超时", step))
	}
	return xerrors.Wrap(xerrors.CodeCapabilityFailure, err, fmt.Sprintf("步骤 %s 执行失败", step))
}

func (a *Agent) remember(ctx context.Context, res *Result) {
	if a.session == nil {
		return
	}
	for key, value := range map[string]string{SessionLastTask: res.Task, SessionLastPlan: res.Plan} {
		if err := a.session.Set(ctx, res.User, key, value); err != nil {
			logger.Named("agent").Warn("写入会话失败", slog.String("user", res.User), slog.Any("error", err))
			return
		}
	}
}
