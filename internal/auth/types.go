// Package auth 为 REST 接口提供静态令牌认证与按路由的权限校验。
package auth

import (
	"strings"

	xerrors "OpenEA-Agent/internal/errors"
)

// 认证相关的错误码。
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{Message: "unauthenticated", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
}

// 接口权限。PermAll 授予全部权限。
const (
	PermAll             = "*"
	PermTasks           = "tasks"
	PermApprovalsRead   = "approvals:read"
	PermApprovalsDecide = "approvals:approve"
	PermKnowledge       = "knowledge"
	PermSession         = "session"
	PermMessages        = "messages"
)

// Mode 枚举认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断调用方是否具备指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求调用方具备全部权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return xerrors.New(CodeUnauthenticated, "缺少调用方身份")
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, "缺少权限: "+perm,
				xerrors.WithMetadata("subject", s.Name), xerrors.WithMetadata("permission", perm))
		}
	}
	return nil
}

// Token 描述一个静态访问令牌。
type Token struct {
	Token       string   `json:"token"`
	TokenEnv    string   `json:"token_env"`
	Subject     string   `json:"subject"`
	Permissions []string `json:"permissions"`
}

// Config 配置认证服务。
type Config struct {
	Mode   Mode    `json:"mode"`
	Tokens []Token `json:"tokens"`
}
