package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/llm"
	"github.com/meaningfill/class-sub000/internal/observability/alerting"
	"github.com/meaningfill/class-sub000/internal/session"
)

// jsonBackend 以 JSON 模式规范化固定文本。
type jsonBackend struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.Request
}

func (b *jsonBackend) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return llm.Normalize("stub", b.text, req.JSONMode)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newSession(t *testing.T, store session.Store) string {
	t.Helper()
	created, err := store.Create(context.Background())
	require.NoError(t, err)
	_, err = store.AppendTurn(context.Background(), created.ID, session.RoleUser, "50인분 도시락 주문하고 싶어요")
	require.NoError(t, err)
	return created.ID
}

const hotJSON = "```json\n{\"intent\":\"purchase\",\"topic\":\"catering\",\"sentiment_score\":5,\"key_needs\":[\"50인분\",\"도시락\"],\"purchase_probability\":85}\n```"

func TestAnalyzeAppliesIntentAndAlertsOnce(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	id := newSession(t, store)
	backend := &jsonBackend{text: hotJSON}
	alerts := &recordingDispatcher{}

	analyzer, err := NewAnalyzer(backend, store, WithAlertDispatcher(alerts))
	require.NoError(t, err)

	outcome, err := analyzer.Analyze(ctx, NewJob(id, 1, "50인분 도시락 주문하고 싶어요", "네, 가능합니다."))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusHotLead, got.Status)
	require.NotNil(t, got.LatestIntent)
	assert.Equal(t, []string{"50인분", "도시락"}, got.LatestIntent.KeyNeeds)

	require.Len(t, backend.requests, 1)
	assert.True(t, backend.requests[0].JSONMode)
	assert.Contains(t, backend.requests[0].Task, "50인분 도시락 주문하고 싶어요")

	require.Len(t, alerts.events, 1)
	assert.Equal(t, alerting.KindHotLead, alerts.events[0].Kind)
	assert.Equal(t, "85", alerts.events[0].Metadata["purchase_probability"])

	// 已是高意向，不再重复通知
	outcome, err = analyzer.Analyze(ctx, NewJob(id, 3, "결제는 어떻게 하나요?", "계좌이체 가능합니다."))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Len(t, alerts.events, 1)
}

func TestAnalyzeRejectsMalformedOutput(t *testing.T) {
	cases := map[string]struct {
		text    string
		outcome Outcome
	}{
		"prose":               {text: "분석할 수 없습니다.", outcome: OutcomeParseError},
		"probability too big": {text: `{"intent":"purchase","topic":"class","sentiment_score":4,"key_needs":[],"purchase_probability":150}`, outcome: OutcomeSchemaError},
		"unknown topic":       {text: `{"intent":"inquiry","topic":"travel","sentiment_score":3,"key_needs":[],"purchase_probability":10}`, outcome: OutcomeSchemaError},
		"missing key_needs":   {text: `{"intent":"inquiry","topic":"class","sentiment_score":3,"purchase_probability":10}`, outcome: OutcomeSchemaError},
		"prose around json":   {text: `분석 결과는 다음과 같습니다: {"intent":"purchase","topic":"catering","sentiment_score":5,"key_needs":[],"purchase_probability":90} 참고하세요.`, outcome: OutcomeParseError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := session.NewMemoryStore()
			id := newSession(t, store)
			analyzer, err := NewAnalyzer(&jsonBackend{text: tc.text}, store)
			require.NoError(t, err)

			outcome, err := analyzer.Analyze(ctx, NewJob(id, 1, "안녕하세요", "반갑습니다"))
			require.Error(t, err)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, xerrors.CodeParseFailure, xerrors.CodeOf(err))

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got.LatestIntent)
			assert.Equal(t, session.StatusActive, got.Status)
		})
	}
}

func TestAnalyzeBackendFailureLeavesSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	id := newSession(t, store)
	analyzer, err := NewAnalyzer(&jsonBackend{err: llm.BackendFailure("stub", errors.New("503"), "调用失败")}, store)
	require.NoError(t, err)

	outcome, err := analyzer.Analyze(ctx, NewJob(id, 1, "안녕하세요", "반갑습니다"))
	assert.True(t, errors.Is(err, llm.ErrBackend))
	assert.Equal(t, OutcomeBackendError, outcome)
}

func TestAnalyzeDropsStaleResult(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	id := newSession(t, store)
	_, err := store.UpdateIntent(ctx, id, session.Intent{Intent: session.IntentGreeting, Topic: session.TopicOther, SentimentScore: 3}, session.StatusActive, 5)
	require.NoError(t, err)

	alerts := &recordingDispatcher{}
	analyzer, err := NewAnalyzer(&jsonBackend{text: hotJSON}, store, WithAlertDispatcher(alerts))
	require.NoError(t, err)

	outcome, err := analyzer.Analyze(ctx, NewJob(id, 3, "50인분 도시락", "가능합니다"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Empty(t, alerts.events)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.IntentGreeting, got.LatestIntent.Intent)
}

func TestAnalyzeUnknownSessionIsPersistError(t *testing.T) {
	analyzer, err := NewAnalyzer(&jsonBackend{text: hotJSON}, session.NewMemoryStore())
	require.NoError(t, err)
	outcome, err := analyzer.Analyze(context.Background(), NewJob("missing", 1, "hi", "hello"))
	assert.True(t, errors.Is(err, session.ErrNotFound))
	assert.Equal(t, OutcomePersistError, outcome)
}

func TestAnalyzeInvalidJob(t *testing.T) {
	analyzer, err := NewAnalyzer(&jsonBackend{text: hotJSON}, session.NewMemoryStore())
	require.NoError(t, err)
	outcome, err := analyzer.Analyze(context.Background(), Job{})
	require.Error(t, err)
	assert.Equal(t, OutcomeInvalidJob, outcome)
}

func TestNewAnalyzerRequiresDependencies(t *testing.T) {
	_, err := NewAnalyzer(nil, session.NewMemoryStore())
	require.Error(t, err)
}
