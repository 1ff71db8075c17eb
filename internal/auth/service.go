package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	xerrors "OpenEA-Agent/internal/errors"
)

// Service 校验 Bearer 令牌并解析出调用方。
type Service struct {
	mode    Mode
	entries []tokenEntry
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewService 构造认证服务。令牌只以摘要形式保存在内存中。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的认证模式: %s", cfg.Mode))
	}

	for i, t := range cfg.Tokens {
		value := strings.TrimSpace(t.Token)
		if value == "" && t.TokenEnv != "" {
			value = strings.TrimSpace(os.Getenv(t.TokenEnv))
		}
		if value == "" {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("第 %d 个令牌为空", i+1))
		}
		name := strings.TrimSpace(t.Subject)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		svc.entries = append(svc.entries, tokenEntry{
			digest:  sha256.Sum256([]byte(value)),
			subject: Subject{Name: name, Permissions: append([]string(nil), t.Permissions...)},
		})
	}
	if len(svc.entries) == 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "token 模式至少需要一个令牌")
	}
	return svc, nil
}

// Enabled 返回是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回调用方。
func (s *Service) AuthenticateRequest(header string) (*Subject, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, xerrors.New(CodeUnauthenticated, "缺少 Bearer 令牌")
	}
	digest := sha256.Sum256([]byte(token))
	var match *tokenEntry
	for i := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], s.entries[i].digest[:]) == 1 {
			match = &s.entries[i]
		}
	}
	if match == nil {
		return nil, xerrors.New(CodeUnauthenticated, "令牌无效")
	}
	subject := Subject{Name: match.subject.Name, Permissions: match.subject.Permissions}
	subject.normalise()
	return &subject, nil
}
