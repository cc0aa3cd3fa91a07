package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/meaningfill/class-sub000/internal/assistant"
	"github.com/meaningfill/class-sub000/internal/auth"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/internal/session"
	"github.com/meaningfill/class-sub000/internal/team"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// MessageSender 是消息接口所需的助手能力。
type MessageSender interface {
	SendMessage(ctx context.Context, sessionID string, history []session.Turn, userText string) (assistant.Reply, error)
}

// Dependencies 汇总 API 处理函数依赖的组件。
type Dependencies struct {
	Assistant MessageSender
	Sessions  session.Store
	Teams     *team.Registry
	Auth      *auth.Service
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr   string
	deps   Dependencies
	logger *slog.Logger
	router chi.Router

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithTimeouts 设置读写与优雅关闭超时，非正值保持默认。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		deps:            deps,
		logger:          logger.Named("api"),
		readTimeout:     15 * time.Second,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	authn := s.deps.Auth
	if authn == nil {
		authn, _ = auth.NewService(false)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(observeRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.With(authn.Middleware(auth.ScopeSessionsRead)).Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/messages", s.handleSendMessage)

		r.Get("/teams", s.handleListTeams)
		r.With(authn.Middleware(auth.ScopeTeamsRun)).Post("/teams/{name}/runs", s.handleRunTeam)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.logger.Info("API 服务开始监听", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
