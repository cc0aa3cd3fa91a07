package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/session"
)

// MessageRequest 是发送消息的请求体。
type MessageRequest struct {
	Message string `json:"message"`
}

// MessageResponse 是助手回复。
type MessageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Fallback  bool   `json:"fallback"`
}

// TeamRunRequest 是运行团队的请求体。
type TeamRunRequest struct {
	Input string `json:"input"`
}

// TeamSummary 描述一个可运行的团队。
type TeamSummary struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化"))
		return
	}
	sess, err := s.deps.Sessions.Create(r.Context())
	if err != nil {
		s.logFailure(r, "创建会话失败", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化"))
		return
	}
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assistant == nil || s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "助手未初始化"))
		return
	}
	var req MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空"))
		return
	}

	id := chi.URLParam(r, "id")
	var history []session.Turn
	sess, err := s.deps.Sessions.Get(r.Context(), id)
	switch {
	case err == nil:
		history = sess.Turns
	case xerrors.CodeOf(err) == xerrors.CodeNotFound:
		writeError(w, err)
		return
	default:
		// 历史读取失败时以空历史继续对话。
		s.logFailure(r, "读取会话历史失败", err)
	}
	reply, err := s.deps.Assistant.SendMessage(r.Context(), id, history, req.Message)
	if err != nil {
		s.logFailure(r, "发送消息失败", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{SessionID: id, Reply: reply.Text, Fallback: reply.Fallback})
}

func (s *Server) handleListTeams(w http.ResponseWriter, _ *http.Request) {
	summaries := make([]TeamSummary, 0)
	if s.deps.Teams != nil {
		for _, name := range s.deps.Teams.Names() {
			pipeline, err := s.deps.Teams.Get(name)
			if err != nil {
				continue
			}
			summaries = append(summaries, TeamSummary{Name: name, Stages: pipeline.StageNames()})
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleRunTeam(w http.ResponseWriter, r *http.Request) {
	if s.deps.Teams == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "团队注册表未初始化"))
		return
	}
	pipeline, err := s.deps.Teams.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req TeamRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	report, err := pipeline.Run(r.Context(), req.Input)
	if err != nil {
		s.logFailure(r, "团队运行失败", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func (s *Server) logFailure(r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	)
}
