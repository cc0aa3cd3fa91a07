// Package assistant 实现检索增强的对话助手：召回知识、拼装上下文、生成回复，
// 回复返回后异步投递影子意图分析。
package assistant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/meaningfill/class-sub000/internal/analysis"
	"github.com/meaningfill/class-sub000/internal/catalog"
	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/llm"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/internal/session"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// FallbackReply 是生成失败时返回给用户的固定文案。
const FallbackReply = "죄송합니다. 일시적인 오류로 답변을 드리지 못했어요. 잠시 후 다시 문의해 주세요."

// DefaultHistoryWindow 是拼入上下文的最近轮次数。
const DefaultHistoryWindow = 6

const defaultTemperature = 0.7

// DefaultPersona 是对话助手的人设与语气规则。
const DefaultPersona = `당신은 케이터링·푸드 클래스 브랜드 '미닝필'의 상담 매니저입니다.
- 친절하고 따뜻한 존댓말로 답하세요.
- 아래 참고 지식과 상품·클래스 목록에 있는 정보만 근거로 안내하고, 모르는 내용은 추측하지 말고 상담 연결을 권하세요.
- 가격은 목록에 적힌 금액 그대로 안내하세요.
- 고객이 어떤 언어로 질문하든 반드시 한국어로 답하세요.`

// Retriever 定义知识召回能力，knowledge.Index 实现了它。
type Retriever interface {
	Retrieve(ctx context.Context, text string) ([]knowledge.Match, error)
}

// ShadowDispatcher 负责不阻塞地投递分析任务。
type ShadowDispatcher interface {
	Dispatch(ctx context.Context, job analysis.Job)
}

// Deps 汇总助手的外部协作者。Sessions 与 Shadow 可为空。
type Deps struct {
	Backend   llm.Backend
	Retriever Retriever
	Catalog   catalog.Store
	Sessions  session.Store
	Shadow    ShadowDispatcher
}

// Reply 是一次对话的结果。
type Reply struct {
	Text     string
	Fallback bool
	Excerpts int
}

// Assistant 是检索增强的对话助手。
type Assistant struct {
	backend       llm.Backend
	retriever     Retriever
	snapshot      *catalog.Snapshot
	sessions      session.Store
	shadow        ShadowDispatcher
	persona       string
	historyWindow int
	temperature   float32
	logger        *slog.Logger
}

// Option 定义可选配置。
type Option func(*Assistant)

// WithPersona 覆盖默认人设。
func WithPersona(persona string) Option {
	return func(a *Assistant) {
		if strings.TrimSpace(persona) != "" {
			a.persona = strings.TrimSpace(persona)
		}
	}
}

// WithHistoryWindow 设置拼入上下文的轮次数。
func WithHistoryWindow(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.historyWindow = n
		}
	}
}

// WithTemperature 设置生成温度。
func WithTemperature(t float32) Option {
	return func(a *Assistant) {
		if t >= 0 {
			a.temperature = t
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建助手，并在此时加载一次目录快照。
func New(ctx context.Context, deps Deps, opts ...Option) (*Assistant, error) {
	if deps.Backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型后端")
	}
	if deps.Retriever == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置知识检索")
	}
	if deps.Catalog == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置商品目录")
	}
	snapshot, err := catalog.Load(ctx, deps.Catalog)
	if err != nil {
		return nil, err
	}

	a := &Assistant{
		backend:       deps.Backend,
		retriever:     deps.Retriever,
		snapshot:      snapshot,
		sessions:      deps.Sessions,
		shadow:        deps.Shadow,
		persona:       DefaultPersona,
		historyWindow: DefaultHistoryWindow,
		temperature:   defaultTemperature,
		logger:        logger.Named("assistant"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger.Info("对话助手已初始化",
		slog.Int("products", len(snapshot.Products())),
		slog.Int("classes", len(snapshot.Classes())))
	return a, nil
}

// Catalog 返回构造时加载的目录快照。
func (a *Assistant) Catalog() *catalog.Snapshot { return a.snapshot }

// SendMessage 处理一条用户消息。history 为此前的对话轮次（最早在前），
// sessionID 为空时不做持久化也不投递分析。生成失败时返回 FallbackReply，
// 只有输入非法才返回错误。
func (a *Assistant) SendMessage(ctx context.Context, sessionID string, history []session.Turn, userText string) (Reply, error) {
	if strings.TrimSpace(userText) == "" {
		return Reply{}, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	log := a.logger.With(slog.String("session_id", sessionID))

	seq := a.appendTurn(ctx, log, sessionID, session.RoleUser, userText)

	excerpts, err := a.retriever.Retrieve(ctx, userText)
	if err != nil {
		log.Warn("知识召回失败，继续生成回复", slog.Any("error", err))
		excerpts = nil
	}

	reply := Reply{Excerpts: len(excerpts)}
	result, err := a.backend.Complete(ctx, llm.Request{
		SystemInstructions: a.assembleContext(excerpts, history),
		Task:               userText,
		Temperature:        a.temperature,
	})
	switch {
	case err != nil:
		log.Error("生成回复失败，返回兜底文案",
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		reply.Text, reply.Fallback = FallbackReply, true
	case result == nil || strings.TrimSpace(result.Text) == "":
		log.Error("生成回复为空，返回兜底文案")
		reply.Text, reply.Fallback = FallbackReply, true
	default:
		reply.Text = result.Text
	}
	if reply.Fallback {
		metrics.AssistantReplies.WithLabelValues("fallback").Inc()
	} else {
		metrics.AssistantReplies.WithLabelValues("generated").Inc()
	}

	a.appendTurn(ctx, log, sessionID, session.RoleAssistant, reply.Text)

	if a.shadow != nil && sessionID != "" {
		a.shadow.Dispatch(ctx, analysis.NewJob(sessionID, seq, userText, reply.Text))
	}
	return reply, nil
}

// appendTurn 尽力持久化一条轮次，失败只记录日志，返回分配的序号。
func (a *Assistant) appendTurn(ctx context.Context, log *slog.Logger, sessionID string, role session.Role, content string) int64 {
	if a.sessions == nil || sessionID == "" {
		return 0
	}
	turn, err := a.sessions.AppendTurn(ctx, sessionID, role, content)
	if err != nil {
		log.Warn("持久化对话轮次失败",
			slog.String("role", string(role)),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return 0
	}
	logger.Audit().Info("对话轮次已保存",
		slog.String("session_id", sessionID),
		slog.String("role", string(role)),
		slog.Int64("seq", turn.Seq))
	return turn.Seq
}
