// Package app 按配置装配存储、检索、能力、审批、编排器与任务管线，供守护进程和命令行共用。
package app

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"OpenEA-Agent/internal/agent"
	"OpenEA-Agent/internal/api"
	"OpenEA-Agent/internal/approval"
	"OpenEA-Agent/internal/auth"
	"OpenEA-Agent/internal/config"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/knowledge"
	"OpenEA-Agent/internal/observability/alerting"
	"OpenEA-Agent/internal/observability/metrics"
	"OpenEA-Agent/internal/planner"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/storage/mysql"
	"OpenEA-Agent/internal/storage/redis"
	"OpenEA-Agent/internal/storage/sqlite"
	"OpenEA-Agent/internal/task"
	"OpenEA-Agent/internal/tools"
	"OpenEA-Agent/pkg/logger"
)

// SessionLastError 记录用户最近一次无法重试的异步任务错误。
const SessionLastError = "last_task_error"

// App 持有装配完成的全部组件。
type App struct {
	Config    *config.Config
	Store     storage.Store
	Knowledge *knowledge.Engine
	Tools     *tools.Registry
	Gate      *approval.Gate
	Agent     *agent.Agent
	Tasks     *task.Service
	Processor *task.Processor
	Alerts    *alerting.FanoutDispatcher
	API       *api.Server

	closers []io.Closer
}

type buildOptions struct {
	pipeline bool
	registry []tools.Option
}

// Option 调整装配行为。
type Option func(*buildOptions)

// WithoutTaskPipeline 跳过任务队列与任务存储，适合只做同步操作的命令行。
func WithoutTaskPipeline() Option {
	return func(o *buildOptions) { o.pipeline = false }
}

// WithToolOptions 替换能力实现，主要用于测试。
func WithToolOptions(opts ...tools.Option) Option {
	return func(o *buildOptions) { o.registry = append(o.registry, opts...) }
}

// Build 按配置创建应用。失败时已打开的资源会被关闭。
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "配置为空")
	}
	bo := buildOptions{pipeline: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&bo)
		}
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "创建数据目录失败")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	fixtures, err := tools.LoadFixtures(cfg.Tools.Fixtures)
	if err != nil {
		return nil, err
	}
	a.Tools = tools.NewRegistry(fixtures, bo.registry...)
	a.Gate = approval.New(store, approval.WithHandler(approval.ActionSendEmail, approval.SendEmail(a.Tools.Mail)))

	agentOpts := []agent.Option{
		agent.WithPlanner(planner.New(planner.WithKnowledgeTerms(cfg.Agent.KnowledgeTerms...))),
		agent.WithStepTimeout(cfg.Agent.StepTimeout()),
		agent.WithSessionStore(store),
	}
	if cfg.Knowledge.IsEnabled() {
		engine, kbErr := knowledge.NewEngine(cfg.Knowledge.Dir,
			knowledge.WithTopK(cfg.Knowledge.TopK),
			knowledge.WithWindow(cfg.Knowledge.Window))
		if kbErr != nil {
			logger.L().Warn("知识库不可用，问答将返回空库提示", slog.Any("error", kbErr))
		}
		a.Knowledge = engine
		agentOpts = append(agentOpts, agent.WithGrounding(engine))
	}
	a.Agent = agent.New(a.Tools, a.Gate, agentOpts...)

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerts.Channel != "" {
		notifiers = append(notifiers, &alerting.MessagingNotifier{Poster: a.Tools.Messaging, ChannelID: cfg.Alerts.Channel})
	}
	a.Alerts = alerting.NewFanout(notifiers...)

	if bo.pipeline {
		if err := a.buildPipeline(ctx); err != nil {
			return nil, err
		}
	}

	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return nil, err
	}
	apiOpts := []api.Option{
		api.WithAuth(authSvc),
		api.WithExecutor(a.Agent),
		api.WithGate(a.Gate),
		api.WithSession(a.Store),
		api.WithTools(a.Tools),
		api.WithMetricsEndpoint(cfg.Server.MetricsAddress == ""),
	}
	if a.Knowledge != nil {
		apiOpts = append(apiOpts, api.WithKnowledge(a.Knowledge))
	}
	if a.Tasks != nil {
		apiOpts = append(apiOpts, api.WithTaskService(a.Tasks))
	}
	a.API = api.NewServer(cfg.Server.Address, apiOpts...)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var main storage.Store
	switch cfg.Storage.Driver {
	case "memory":
		main = storage.NewMemoryStore()
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 存储失败")
		}
		main = s
	case "mysql":
		m := cfg.Storage.MySQL
		s, err := mysql.Open(ctx, mysql.Config{
			DSN:             m.DSN,
			MaxOpenConns:    m.MaxOpenConns,
			MaxIdleConns:    m.MaxIdleConns,
			ConnMaxLifetime: time.Duration(m.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(m.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		main = s
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的存储驱动: %s", cfg.Storage.Driver))
	}

	if cfg.Storage.Session.Driver != "redis" {
		return main, nil
	}
	r := cfg.Storage.Session.Redis
	session, err := redis.NewSessionStore(ctx, redis.Config{
		Address:  r.Address,
		Password: r.Password,
		DB:       r.DB,
		Prefix:   r.Prefix,
	})
	if err != nil {
		_ = main.Close()
		return nil, err
	}
	return storage.Compose(session, main), nil
}

func (a *App) buildPipeline(ctx context.Context) error {
	cfg := a.Config

	var store task.Store
	switch cfg.TaskStore.Driver {
	case "memory":
		store = task.NewMemoryStore()
	case "mysql":
		s, err := task.NewMySQLStore(cfg.TaskStore.DSN)
		if err != nil {
			return err
		}
		store = s
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的任务存储驱动: %s", cfg.TaskStore.Driver))
	}

	var queue task.Queue
	switch cfg.TaskQueue.Driver {
	case "memory":
		queue = task.NewMemoryQueue(1024)
	case "redis":
		r := cfg.TaskQueue.Redis
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   r.Address,
			Password:  r.Password,
			DB:        r.DB,
			Queue:     r.Queue,
			BlockWait: time.Duration(r.BlockWait) * time.Second,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		queue = q
	case "rabbitmq":
		r := cfg.TaskQueue.RabbitMQ
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        r.URL,
			Queue:      r.Queue,
			Prefetch:   r.Prefetch,
			Durable:    r.Durable,
			AutoDelete: r.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		queue = q
	default:
		_ = store.Close()
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的队列驱动: %s", cfg.TaskQueue.Driver))
	}

	// Service.Close 同时关闭任务存储与队列。
	a.Tasks = task.NewService(store, queue, cfg.TaskStore.Retries)
	a.closers = append(a.closers, a.Tasks)
	a.Processor = task.NewProcessor(a.Agent, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithRecoveryHandler(task.RecoveryFunc(a.rememberFailure)),
		task.WithAlertDispatcher(a.Alerts),
	)
	return nil
}

// rememberFailure 把不可重试的错误写入用户会话，随后按失败流程处理任务。
func (a *App) rememberFailure(ctx context.Context, t *task.Task, cause error) (*agent.Result, error) {
	if err := a.Store.Set(ctx, t.User, SessionLastError, cause.Error()); err != nil {
		return nil, err
	}
	return nil, nil
}

// Run 启动任务处理器、API 服务和可选的独立指标端口，直到 ctx 结束或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		once sync.Once
		werr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				logger.L().Error("组件退出", slog.String("component", name), slog.Any("error", err))
				once.Do(func() { werr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	if a.Processor != nil {
		start("processor", a.Processor.Start)
	}
	if a.Config.Server.MetricsAddress != "" {
		start("metrics", func(ctx context.Context) error { return metrics.StartServer(ctx, a.Config.Server.MetricsAddress) })
	}
	start("api", a.API.Start)

	wg.Wait()
	return werr
}

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}
