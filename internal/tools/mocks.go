package tools

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockMail 在内存中记录草稿与已发送邮件。
type MockMail struct {
	mu     sync.Mutex
	drafts []Draft
	sent   []Draft
}

// NewMockMail 创建内存邮箱。
func NewMockMail() *MockMail {
	return &MockMail{}
}

// CreateDraft 仅构造草稿，不会发送。
func (m *MockMail) CreateDraft(ctx context.Context, to, subject, body string) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if strings.TrimSpace(to) == "" {
		return Draft{}, errors.New("收件人不能为空")
	}
	d := Draft{To: to, Subject: subject, Body: body}
	m.mu.Lock()
	m.drafts = append(m.drafts, d)
	m.mu.Unlock()
	return d, nil
}

// Send 记录一封已发送邮件。
func (m *MockMail) Send(ctx context.Context, draft Draft) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	m.mu.Lock()
	m.sent = append(m.sent, draft)
	m.mu.Unlock()
	return Delivery{OK: true, Sent: draft}, nil
}

// Sent 返回已发送邮件的副本。
func (m *MockMail) Sent() []Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Draft(nil), m.sent...)
}

// Drafts 返回全部草稿的副本。
func (m *MockMail) Drafts() []Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Draft(nil), m.drafts...)
}

// MockExpense 以自增序号模拟报销系统。
type MockExpense struct {
	mu      sync.Mutex
	reports []Report
}

// NewMockExpense 创建报销模拟器。
func NewMockExpense() *MockExpense {
	return &MockExpense{}
}

// CreateReport 创建报销单并分配编号。
func (e *MockExpense) CreateReport(ctx context.Context, user, title string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := Report{ID: len(e.reports) + 1, Title: title, Owner: user}
	e.reports = append(e.reports, r)
	return r, nil
}

// AttachPlaceholderReceipt 附加占位票据。
func (e *MockExpense) AttachPlaceholderReceipt(ctx context.Context) (Attachment, error) {
	if err := ctx.Err(); err != nil {
		return Attachment{}, err
	}
	return Attachment{Receipt: "placeholder-receipt.jpg", Status: "attached"}, nil
}

// MockVideo 模拟视频会议服务。
type MockVideo struct {
	mu       sync.Mutex
	baseURL  string
	meetings []Meeting
}

// NewMockVideo 创建视频会议模拟器，baseURL 为入会链接前缀。
func NewMockVideo(baseURL string) *MockVideo {
	if baseURL == "" {
		baseURL = defaultJoinBaseURL
	}
	return &MockVideo{baseURL: strings.TrimRight(baseURL, "/")}
}

// CreateMeeting 创建会议并生成唯一的入会链接。
func (v *MockVideo) CreateMeeting(ctx context.Context, topic, when string) (Meeting, error) {
	if err := ctx.Err(); err != nil {
		return Meeting{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	m := Meeting{
		ID:      len(v.meetings) + 1,
		Topic:   topic,
		When:    when,
		JoinURL: v.baseURL + "/j/" + uuid.NewString(),
	}
	v.meetings = append(v.meetings, m)
	return m, nil
}

// MockMessaging 记录发送到各频道的消息。
type MockMessaging struct {
	mu    sync.Mutex
	posts []PostResult
}

// NewMockMessaging 创建消息模拟器。
func NewMockMessaging() *MockMessaging {
	return &MockMessaging{}
}

// Post 直接记录消息，不做安全检查。
func (m *MockMessaging) Post(ctx context.Context, channel, text string) (PostResult, error) {
	if err := ctx.Err(); err != nil {
		return PostResult{}, err
	}
	res := PostResult{OK: true, Channel: channel, Text: text}
	m.mu.Lock()
	m.posts = append(m.posts, res)
	m.mu.Unlock()
	return res, nil
}

// Posts 返回已发送消息的副本。
func (m *MockMessaging) Posts() []PostResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostResult(nil), m.posts...)
}

var (
	_ Mail      = (*MockMail)(nil)
	_ Expense   = (*MockExpense)(nil)
	_ Video     = (*MockVideo)(nil)
	_ Messaging = (*MockMessaging)(nil)
)
