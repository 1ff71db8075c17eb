package tools

import (
	"context"

	"OpenEA-Agent/internal/safety"
	"OpenEA-Agent/pkg/logger"
)

// BlockedReason 是消息被安全检查拦截时返回的原因。
const BlockedReason = "unsafe content"

// GuardedMessenger 在发送前执行安全检查与脱敏。
type GuardedMessenger struct {
	next  Messaging
	guard safety.Checker
}

// NewGuardedMessenger 包装底层消息通道。
func NewGuardedMessenger(next Messaging, guard safety.Checker) *GuardedMessenger {
	if guard == nil {
		guard = safety.NewGuard()
	}
	return &GuardedMessenger{next: next, guard: guard}
}

// Post 拦截危险内容，否则发送脱敏后的文本。
func (g *GuardedMessenger) Post(ctx context.Context, channel, text string) (PostResult, error) {
	if !g.guard.Allow(text) {
		logger.Audit().Warn("消息被安全策略拦截", "channel", channel)
		return PostResult{Blocked: true, Reason: BlockedReason}, nil
	}
	return g.next.Post(ctx, channel, g.guard.Scrub(text))
}

var _ Messaging = (*GuardedMessenger)(nil)
