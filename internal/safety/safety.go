package safety

import "strings"

// DefaultUnsafePhrases 是默认拦截的危险短语。
var DefaultUnsafePhrases = []string{
	"delete all",
	"format drive",
	"share password",
	"send pii",
}

// scrubMarker 用于替换文本中的 @ 字符。
const scrubMarker = "[at]"

// Checker 定义文本安全检查能力。
type Checker interface {
	Allow(text string) bool
	Scrub(text string) string
}

// Guard 基于短语列表执行大小写不敏感的子串匹配。
type Guard struct {
	phrases []string
}

// NewGuard 创建安全检查器，phrases 为空时使用默认短语。
func NewGuard(phrases ...string) *Guard {
	if len(phrases) == 0 {
		phrases = DefaultUnsafePhrases
	}
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Guard{phrases: normalized}
}

// Allow 判断文本是否允许发送。
func (g *Guard) Allow(text string) bool {
	lowered := strings.ToLower(text)
	for _, p := range g.phrases {
		if strings.Contains(lowered, p) {
			return false
		}
	}
	return true
}

// Scrub 对文本做最小化的脱敏处理。
func (g *Guard) Scrub(text string) string {
	return strings.ReplaceAll(text, "@", scrubMarker)
}

// Phrases 返回当前生效的短语副本。
func (g *Guard) Phrases() []string {
	return append([]string(nil), g.phrases...)
}

var _ Checker = (*Guard)(nil)
