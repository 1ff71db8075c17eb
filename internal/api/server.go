package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OpenEA-Agent/internal/approval"
	"OpenEA-Agent/internal/auth"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/knowledge"
	"OpenEA-Agent/internal/observability/metrics"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/task"
	"OpenEA-Agent/internal/tools"
	"OpenEA-Agent/pkg/logger"
)

// Knowledge 是问答接口依赖的检索引擎能力。
type Knowledge interface {
	Answer(question string) knowledge.Answer
	Refresh() error
	Stats() (documents, sentences int)
}

// Server 负责暴露 REST 接口，供外部驱动编排、审批与问答。
type Server struct {
	addr      string
	executor  task.Executor
	tasks     *task.Service
	gate      *approval.Gate
	session   storage.KV
	knowledge Knowledge
	tools     *tools.Registry
	auth      *auth.Service
	metrics   bool
}

// Option 定义 Server 的可选依赖。
type Option func(*Server)

// WithExecutor 配置同步执行任务所用的编排器。
func WithExecutor(e task.Executor) Option {
	return func(s *Server) { s.executor = e }
}

// WithTaskService 配置异步任务服务。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithGate 配置审批闸门。
func WithGate(g *approval.Gate) Option {
	return func(s *Server) { s.gate = g }
}

// WithSession 配置会话存储。
func WithSession(kv storage.KV) Option {
	return func(s *Server) { s.session = kv }
}

// WithKnowledge 配置检索问答引擎。
func WithKnowledge(k Knowledge) Option {
	return func(s *Server) { s.knowledge = k }
}

// WithTools 配置能力集合，用于消息发送与已发送邮件查询。
func WithTools(r *tools.Registry) Option {
	return func(s *Server) { s.tools = r }
}

// WithAuth 为业务路由启用令牌认证，/healthz 与 /metrics 不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithMetricsEndpoint 在 API 端口上同时暴露 /metrics。
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) { s.metrics = enabled }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册好全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name, perm string, fn http.HandlerFunc) {
		var h http.Handler = fn
		if perm != "" {
			h = s.auth.Middleware(name, perm)(h)
		}
		mux.Handle(pattern, instrument(name, h))
	}

	route("GET /healthz", "healthz", "", s.handleHealth)

	route("POST /api/v1/tasks", "tasks.create", auth.PermTasks, s.handleCreateTask)
	route("GET /api/v1/tasks", "tasks.list", auth.PermTasks, s.handleListTasks)
	route("GET /api/v1/tasks/stats", "tasks.stats", auth.PermTasks, s.handleTaskStats)
	route("GET /api/v1/tasks/{id}", "tasks.detail", auth.PermTasks, s.handleTaskDetail)

	route("GET /api/v1/approvals", "approvals.list", auth.PermApprovalsRead, s.handleListApprovals)
	route("DELETE /api/v1/approvals", "approvals.clear", auth.PermApprovalsDecide, s.handleClearApprovals)
	route("POST /api/v1/approvals/approve-all", "approvals.approve_all", auth.PermApprovalsDecide, s.handleApproveAll)
	route("GET /api/v1/approvals/{id}", "approvals.detail", auth.PermApprovalsRead, s.handleApprovalDetail)
	route("POST /api/v1/approvals/{id}/approve", "approvals.approve", auth.PermApprovalsDecide, s.handleApprove)

	route("POST /api/v1/ask", "knowledge.ask", auth.PermKnowledge, s.handleAsk)
	route("POST /api/v1/knowledge/refresh", "knowledge.refresh", auth.PermKnowledge, s.handleRefresh)

	route("GET /api/v1/notes", "notes.list", auth.PermSession, s.handleListNotes)
	route("POST /api/v1/notes", "notes.add", auth.PermSession, s.handleAddNote)
	route("GET /api/v1/session", "session.get", auth.PermSession, s.handleSessionGet)
	route("DELETE /api/v1/session", "session.reset", auth.PermSession, s.handleSessionReset)

	route("POST /api/v1/messages", "messages.post", auth.PermMessages, s.handlePostMessage)
	route("GET /api/v1/mail/sent", "mail.sent", auth.PermMessages, s.handleSentMail)

	if s.metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure 按错误码映射 HTTP 状态。
func writeFailure(w http.ResponseWriter, err error) {
	status, code := failureStatus(err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: string(code)})
}

func failureStatus(err error) (int, xerrors.Code) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeConflict, task.CodeTaskConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	return status, code
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" 未初始化")
}
