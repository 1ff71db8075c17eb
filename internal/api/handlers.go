package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenEA-Agent/internal/approval"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/task"
	"OpenEA-Agent/internal/tools"
)

type createTaskRequest struct {
	ID   string `json:"id,omitempty"`
	User string `json:"user"`
	Task string `json:"task"`
}

// handleCreateTask 同步执行任务，?async=true 时改为入队并返回任务记录。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.tasks == nil {
			unavailable(w, "任务服务")
			return
		}
		t, err := s.tasks.Submit(r.Context(), task.Request{ID: req.ID, User: req.User, Text: req.Task})
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, t)
		return
	}

	if s.executor == nil {
		unavailable(w, "编排器")
		return
	}
	result, err := s.executor.Execute(r.Context(), req.User, req.Task)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "缺少任务 ID")
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是整数")
		}
		opts = append(opts, task.WithLimit(n))
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是整数")
		}
		opts = append(opts, task.WithOffset(n))
	}
	if v := q.Get("user"); v != "" {
		opts = append(opts, task.WithUser(v))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			st := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(st) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 必须是 RFC3339 时间")
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "until 必须是 RFC3339 时间")
		}
		opts = append(opts, task.WithUpdatedUntil(ts))
	}
	if v := q.Get("has_result"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(b))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if v := q.Get("q"); v != "" {
		opts = append(opts, task.WithQuery(v))
	}
	return opts, nil
}

func requireUser(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "缺少 user 参数")
	}
	return user, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "审批 ID 非法")
	}
	return id, nil
}

// handleListApprovals 列出待审批（默认）或已通过的请求。
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		unavailable(w, "审批闸门")
		return
	}
	user, err := requireUser(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var list []storage.Approval
	switch r.URL.Query().Get("status") {
	case "", "pending":
		list, err = s.gate.ListPending(r.Context(), user)
	case "approved":
		list, err = s.gate.ListApproved(r.Context(), user)
	default:
		writeError(w, http.StatusBadRequest, "status 仅支持 pending/approved")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	if list == nil {
		list = []storage.Approval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": list})
}

func (s *Server) handleApprovalDetail(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		unavailable(w, "审批闸门")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	a, err := s.gate.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleApprove 通过单个审批，并执行对应的后续动作。
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		unavailable(w, "审批闸门")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	out, err := s.gate.Execute(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type approveAllRequest struct {
	User string `json:"user"`
}

type approveAllResponse struct {
	Approved int                `json:"approved"`
	Outcomes []approval.Outcome `json:"outcomes"`
	Error    string             `json:"error,omitempty"`
	Code     string             `json:"code,omitempty"`
}

func (s *Server) handleApproveAll(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		unavailable(w, "审批闸门")
		return
	}
	var req approveAllRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, http.StatusBadRequest, "user 不能为空")
		return
	}
	outcomes, err := s.gate.ExecuteAll(r.Context(), req.User)
	if outcomes == nil {
		outcomes = []approval.Outcome{}
	}
	resp := approveAllResponse{Approved: len(outcomes), Outcomes: outcomes}
	if err != nil {
		// 出错前已经通过并执行的请求仍然返回给调用方。
		status, code := failureStatus(err)
		resp.Error, resp.Code = err.Error(), string(code)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearApprovals(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		unavailable(w, "审批闸门")
		return
	}
	user, err := requireUser(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	n, err := s.gate.ClearPending(r.Context(), user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		unavailable(w, "检索引擎")
		return
	}
	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "问题不能为空")
		return
	}
	writeJSON(w, http.StatusOK, s.knowledge.Answer(req.Question))
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.knowledge == nil {
		unavailable(w, "检索引擎")
		return
	}
	if err := s.knowledge.Refresh(); err != nil {
		writeFailure(w, err)
		return
	}
	docs, sentences := s.knowledge.Stats()
	writeJSON(w, http.StatusOK, map[string]int{"documents": docs, "sentences": sentences})
}

type addNoteRequest struct {
	User string `json:"user"`
	Note string `json:"note"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		unavailable(w, "会话存储")
		return
	}
	var req addNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.User) == "" || strings.TrimSpace(req.Note) == "" {
		writeError(w, http.StatusBadRequest, "user 与 note 不能为空")
		return
	}
	key, err := storage.AddNote(r.Context(), s.session, req.User, req.Note)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storage.Note{Key: key, Note: req.Note})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		unavailable(w, "会话存储")
		return
	}
	user, err := requireUser(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	notes, err := storage.ListNotes(r.Context(), s.session, user)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// handleSessionGet 读取会话键，不存在时返回 default 参数。
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		unavailable(w, "会话存储")
		return
	}
	user, err := requireUser(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "缺少 key 参数")
		return
	}
	value, err := storage.GetOr(r.Context(), s.session, user, key, q.Get("default"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storage.KVEntry{Key: key, Value: value})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		unavailable(w, "会话存储")
		return
	}
	user, err := requireUser(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.session.Reset(r.Context(), user); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// handlePostMessage 经安全检查后发送频道消息，被拦截时仍返回 200 与 blocked 标记。
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil || s.tools.Messaging == nil {
		unavailable(w, "消息能力")
		return
	}
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Channel) == "" {
		writeError(w, http.StatusBadRequest, "channel 不能为空")
		return
	}
	res, err := s.tools.Messaging.Post(r.Context(), req.Channel, req.Text)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSentMail(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil || s.tools.Mail == nil {
		unavailable(w, "邮件能力")
		return
	}
	sent := s.tools.Mail.Sent()
	if sent == nil {
		sent = []tools.Draft{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}
