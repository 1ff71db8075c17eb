// Package alerting 把需要人工关注的任务失败事件分发到通知渠道。
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/tools"
	"OpenEA-Agent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog       Channel = "log"
	ChannelMessaging Channel = "messaging"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	User       string
	Stage      string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件投递到每个注册渠道，同一渠道只保留最后注册的通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for c := range d.notifiers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条审计记录。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("user", event.User),
		slog.String("stage", event.Stage),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	}
	if event.Severity == xerrors.SeverityCritical {
		logger.Audit().Error("alert", attrs...)
		return nil
	}
	logger.Audit().Warn("alert", attrs...)
	return nil
}

// MessagingNotifier 通过消息能力把告警发到运维频道，内容同样经过安全检查。
type MessagingNotifier struct {
	Poster    tools.Messaging
	ChannelID string
}

// Channel 返回消息渠道。
func (n *MessagingNotifier) Channel() Channel { return ChannelMessaging }

// Notify 发送频道消息。被安全检查拦截时返回错误。
func (n *MessagingNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Poster == nil || n.ChannelID == "" {
		logger.L().Warn("MessagingNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	res, err := n.Poster.Post(ctx, n.ChannelID, Format(event))
	if err != nil {
		return err
	}
	if res.Blocked {
		return fmt.Errorf("告警消息被拦截: %s", res.Reason)
	}
	return nil
}

// Format 把事件渲染为单条文本消息，元数据按键排序。
func Format(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", event.Severity, event.Code, event.Message)
	if event.TaskID != "" {
		fmt.Fprintf(&b, "\n任务: %s (用户 %s)", event.TaskID, event.User)
	}
	if event.Stage != "" {
		fmt.Fprintf(&b, "\n阶段: %s 重试: %d/%d", event.Stage, event.Attempts, event.MaxRetries)
	}
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
		}
	}
	return b.String()
}
