package tools

import "OpenEA-Agent/internal/safety"

// Registry 汇总执行器可调用的全部能力。
type Registry struct {
	Calendar  Calendar
	Mail      Mail
	Expense   Expense
	Video     Video
	Messaging Messaging
	Safety    safety.Checker
}

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithCalendar 替换日历实现。
func WithCalendar(c Calendar) Option {
	return func(r *Registry) { r.Calendar = c }
}

// WithMail 替换邮件实现。
func WithMail(m Mail) Option {
	return func(r *Registry) { r.Mail = m }
}

// WithExpense 替换报销实现。
func WithExpense(e Expense) Option {
	return func(r *Registry) { r.Expense = e }
}

// WithVideo 替换视频会议实现。
func WithVideo(v Video) Option {
	return func(r *Registry) { r.Video = v }
}

// WithMessaging 替换底层消息通道，安全检查仍会包裹在外层。
func WithMessaging(m Messaging) Option {
	return func(r *Registry) { r.Messaging = m }
}

// NewRegistry 基于夹具创建模拟能力集合。
func NewRegistry(fx Fixtures, opts ...Option) *Registry {
	guard := safety.NewGuard(fx.Safety.UnsafePhrases...)
	r := &Registry{
		Calendar:  NewMockCalendar(fx.Calendar),
		Mail:      NewMockMail(),
		Expense:   NewMockExpense(),
		Video:     NewMockVideo(fx.Video.JoinBaseURL),
		Messaging: NewMockMessaging(),
		Safety:    guard,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.Messaging = NewGuardedMessenger(r.Messaging, r.Safety)
	return r
}
