package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/llm"
	"github.com/meaningfill/class-sub000/internal/observability/alerting"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/internal/session"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// Outcome 是一次分析的结果分类，同时用作指标标签。
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeStale        Outcome = "stale"
	OutcomeInvalidJob   Outcome = "invalid_job"
	OutcomeBackendError Outcome = "backend_error"
	OutcomeParseError   Outcome = "parse_error"
	OutcomeSchemaError  Outcome = "schema_error"
	OutcomePersistError Outcome = "persist_error"
)

const extractionSchema = `{
  "type": "object",
  "required": ["intent", "topic", "sentiment_score", "key_needs", "purchase_probability"],
  "properties": {
    "intent": {"type": "string", "enum": ["inquiry", "purchase", "complaint", "greeting"]},
    "topic": {"type": "string", "enum": ["catering", "class", "other"]},
    "sentiment_score": {"type": "integer", "minimum": 1, "maximum": 5},
    "key_needs": {"type": "array", "items": {"type": "string"}},
    "purchase_probability": {"type": "integer", "minimum": 0, "maximum": 100}
  }
}`

const extractionInstructions = `당신은 케이터링·클래스 상담 대화를 분석하는 분석가입니다.
주어진 고객 메시지와 상담원 답변을 읽고 아래 키를 가진 JSON 객체 하나만 출력하세요. 설명 문장은 쓰지 마세요.
- intent: "inquiry" | "purchase" | "complaint" | "greeting"
- topic: "catering" | "class" | "other"
- sentiment_score: 1~5 정수 (5가 가장 긍정적)
- key_needs: 고객이 언급한 핵심 요구사항 문자열 배열
- purchase_probability: 0~100 정수 (구매 가능성)`

const extractionTemperature = 0.2

// Analyzer 调用大模型提取意图并按序号保护写回会话。
type Analyzer struct {
	backend  llm.Backend
	sessions session.Store
	alerts   alerting.Dispatcher
	schema   *gojsonschema.Schema
	logger   *slog.Logger
}

// AnalyzerOption 定义可选配置。
type AnalyzerOption func(*Analyzer)

// WithAlertDispatcher 配置高意向通知。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) AnalyzerOption {
	return func(a *Analyzer) {
		a.alerts = dispatcher
	}
}

// WithAnalyzerLogger 指定日志输出。
func WithAnalyzerLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnalyzer 创建 Analyzer。
func NewAnalyzer(backend llm.Backend, sessions session.Store, opts ...AnalyzerOption) (*Analyzer, error) {
	if backend == nil || sessions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "分析器缺少后端或会话存储")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(extractionSchema))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载意图 JSON Schema 失败")
	}
	a := &Analyzer{
		backend:  backend,
		sessions: sessions,
		schema:   schema,
		logger:   logger.Named("analysis"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Extract 请求严格 JSON 输出并校验。空输出、无法解析或不符合 schema 时返回错误。
func (a *Analyzer) Extract(ctx context.Context, job Job) (session.Intent, error) {
	result, err := a.backend.Complete(ctx, llm.Request{
		SystemInstructions: extractionInstructions,
		Task:               fmt.Sprintf("고객 메시지:\n%s\n\n상담원 답변:\n%s", job.UserText, job.Reply),
		JSONMode:           true,
		Temperature:        extractionTemperature,
	})
	if err != nil {
		return session.Intent{}, err
	}
	if result == nil || len(result.JSON) == 0 {
		return session.Intent{}, xerrors.New(xerrors.CodeParseFailure, "分析结果不是 JSON 对象")
	}

	validation, err := a.schema.Validate(gojsonschema.NewBytesLoader(result.JSON))
	if err != nil {
		return session.Intent{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "校验分析结果失败")
	}
	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			details = append(details, desc.String())
		}
		return session.Intent{}, xerrors.New(xerrors.CodeParseFailure, "分析结果不符合 schema: "+strings.Join(details, "; "), withSchemaStage)
	}

	var raw struct {
		Intent              string   `json:"intent"`
		Topic               string   `json:"topic"`
		SentimentScore      float64  `json:"sentiment_score"`
		KeyNeeds            []string `json:"key_needs"`
		PurchaseProbability float64  `json:"purchase_probability"`
	}
	if err := json.Unmarshal(result.JSON, &raw); err != nil {
		return session.Intent{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "解析分析结果失败")
	}
	intent := session.Intent{
		Intent:              raw.Intent,
		Topic:               raw.Topic,
		SentimentScore:      int(math.Round(raw.SentimentScore)),
		KeyNeeds:            raw.KeyNeeds,
		PurchaseProbability: int(math.Round(raw.PurchaseProbability)),
	}.Normalized()
	if err := intent.Validate(); err != nil {
		return session.Intent{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "分析结果取值越界", withSchemaStage)
	}
	return intent, nil
}

var withSchemaStage = xerrors.WithMetadata("stage", "schema")

// isSchemaMismatch 区分 schema 不符与无法解析，两者错误码相同。
func isSchemaMismatch(err error) bool {
	typed, ok := xerrors.From(err)
	return ok && typed.Metadata()["stage"] == "schema"
}

// Analyze 完成一次影子分析并返回结果分类。错误只用于日志，调用方不应向用户暴露。
func (a *Analyzer) Analyze(ctx context.Context, job Job) (Outcome, error) {
	if err := job.Validate(); err != nil {
		return OutcomeInvalidJob, err
	}

	intent, err := a.Extract(ctx, job)
	if err != nil {
		switch {
		case isSchemaMismatch(err):
			return OutcomeSchemaError, err
		case xerrors.CodeOf(err) == xerrors.CodeParseFailure:
			return OutcomeParseError, err
		default:
			return OutcomeBackendError, err
		}
	}

	status := session.ConversionStatus(intent.PurchaseProbability)
	update, err := a.sessions.UpdateIntent(ctx, job.SessionID, intent, status, job.Seq)
	if err != nil {
		return OutcomePersistError, err
	}
	if !update.Applied {
		a.logger.Info("丢弃过期的分析结果",
			slog.String("session_id", job.SessionID),
			slog.Int64("seq", job.Seq))
		return OutcomeStale, nil
	}

	logger.Audit().Info("会话意图已更新",
		slog.String("session_id", job.SessionID),
		slog.Int64("seq", job.Seq),
		slog.String("intent", intent.Intent),
		slog.String("topic", intent.Topic),
		slog.Int("purchase_probability", intent.PurchaseProbability),
		slog.String("conversion_status", string(update.Current)))

	if update.BecameHotLead() {
		a.notifyHotLead(ctx, job, intent)
	}
	return OutcomeApplied, nil
}

func (a *Analyzer) notifyHotLead(ctx context.Context, job Job, intent session.Intent) {
	metrics.HotLeads.Inc()
	if a.alerts == nil {
		return
	}
	event := alerting.Event{
		Kind:      alerting.KindHotLead,
		Severity:  xerrors.SeverityInfo,
		SessionID: job.SessionID,
		Message:   "고객 구매 가능성이 높습니다",
		Metadata: map[string]string{
			"intent":               intent.Intent,
			"topic":                intent.Topic,
			"purchase_probability": strconv.Itoa(intent.PurchaseProbability),
			"key_needs":            strings.Join(intent.KeyNeeds, ", "),
			"user_text":            job.UserText,
		},
		OccurredAt: time.Now(),
	}
	if err := a.alerts.Notify(ctx, event); err != nil {
		a.logger.Error("高意向通知失败", slog.Any("error", err), slog.String("session_id", job.SessionID))
	}
}
