package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// Service 使用静态 Bearer Token 认证请求。未启用时放行所有请求。
type Service struct {
	enabled bool
	tokens  []Token
	audit   *slog.Logger
}

// NewService 创建认证服务。未启用时忽略 tokens。
func NewService(enabled bool, tokens ...Token) (*Service, error) {
	s := &Service{enabled: enabled, audit: logger.Audit()}
	if !enabled {
		return s, nil
	}
	for _, token := range tokens {
		token.Value = strings.TrimSpace(token.Value)
		token.Subject = strings.TrimSpace(token.Subject)
		if token.Value == "" || token.Subject == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "token 缺少 subject 或值")
		}
		s.tokens = append(s.tokens, token)
	}
	if len(s.tokens) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "启用鉴权时至少需要一个 token")
	}
	return s, nil
}

// Enabled 返回是否启用认证。
func (s *Service) Enabled() bool { return s != nil && s.enabled }

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return nil, ErrInvalidToken
	}
	value = strings.TrimSpace(value)

	var matched *Token
	for i := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(s.tokens[i].Value), []byte(value)) == 1 {
			matched = &s.tokens[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Name: matched.Subject, Scopes: append([]string(nil), matched.Scopes...)}
	subject.normalise()
	return subject, nil
}
