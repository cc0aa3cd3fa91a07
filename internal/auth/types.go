package auth

import (
	"strings"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// 授权范围
const (
	ScopeSessionsRead = "sessions:read"
	ScopeTeamsRun     = "teams:run"
	ScopeAll          = "*"
)

// 鉴权错误，可以用 errors.Is 按错误码比较。
var (
	ErrMissingToken     = xerrors.New(xerrors.CodeUnauthenticated, "missing bearer token")
	ErrInvalidToken     = xerrors.New(xerrors.CodeUnauthenticated, "invalid token")
	ErrPermissionDenied = xerrors.New(xerrors.CodePermissionDenied, "permission denied")
)

// Token 是一个静态访问令牌及其授权范围。
type Token struct {
	Subject string
	Value   string
	Scopes  []string
}

// Subject 是通过认证的调用方，经由 context 传给处理函数。
type Subject struct {
	Name   string
	Scopes []string

	scopeSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.scopeSet != nil {
		return
	}
	s.scopeSet = make(map[string]struct{}, len(s.Scopes))
	for _, scope := range s.Scopes {
		s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
	}
}

// HasScope 判断是否拥有指定范围，"*" 代表全部。
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.scopeSet[ScopeAll]; ok {
		return true
	}
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize 要求拥有全部给定范围。
func (s *Subject) Authorize(scopes ...string) error {
	for _, scope := range scopes {
		if !s.HasScope(scope) {
			return xerrors.Wrap(xerrors.CodePermissionDenied, ErrPermissionDenied, "缺少授权范围: "+scope)
		}
	}
	return nil
}
