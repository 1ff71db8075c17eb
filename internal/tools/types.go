package tools

import "context"

// Slot 描述一个日历时间段，格式为 2006-01-02T15:04。
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Calendar 提供忙碌时段查询与候选时段推荐。
type Calendar interface {
	ListBusy(ctx context.Context, user string) ([]Slot, error)
	ProposeSlots(ctx context.Context, user string, durationMin int, dayHint string) ([]Slot, error)
}

// Draft 是一封尚未发送的邮件。
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Delivery 是邮件发送回执。
type Delivery struct {
	OK   bool  `json:"ok"`
	Sent Draft `json:"sent"`
}

// Mail 负责起草与发送邮件。Send 只能在审批通过后调用。
type Mail interface {
	CreateDraft(ctx context.Context, to, subject, body string) (Draft, error)
	Send(ctx context.Context, draft Draft) (Delivery, error)
	Sent() []Draft
}

// Report 是报销单。
type Report struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
}

// Attachment 描述票据附件状态。
type Attachment struct {
	Receipt string `json:"receipt"`
	Status  string `json:"status"`
}

// Expense 负责报销单相关操作。
type Expense interface {
	CreateReport(ctx context.Context, user, title string) (Report, error)
	AttachPlaceholderReceipt(ctx context.Context) (Attachment, error)
}

// Meeting 是视频会议记录。
type Meeting struct {
	ID      int    `json:"id"`
	Topic   string `json:"topic"`
	When    string `json:"when"`
	JoinURL string `json:"join_url"`
}

// Video 负责创建视频会议。
type Video interface {
	CreateMeeting(ctx context.Context, topic, when string) (Meeting, error)
}

// PostResult 是消息发送结果，被拦截时 Blocked 为 true。
type PostResult struct {
	OK      bool   `json:"ok,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Messaging 负责向频道发送消息。
type Messaging interface {
	Post(ctx context.Context, channel, text string) (PostResult, error)
}
