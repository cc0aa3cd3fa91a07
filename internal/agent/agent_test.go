package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/llm"
)

type stubBackend struct {
	requests []llm.Request
	result   *llm.Result
	err      error
}

func (s *stubBackend) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	s.requests = append(s.requests, req)
	return s.result, s.err
}

func TestThinkCombinesPersonaAndLanguageRule(t *testing.T) {
	backend := &stubBackend{result: &llm.Result{Text: "시장 분석 결과"}}
	ag := New(backend, Profile{Name: "분석가", Role: "시장 조사", Persona: "데이터로 말하는 냉철한 분석가."})

	out, err := ag.Think(context.Background(), "Analyze the snack box market", "원본 요청: 기업 행사")
	require.NoError(t, err)
	assert.Equal(t, "시장 분석 결과", out)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Contains(t, req.SystemInstructions, "데이터로 말하는 냉철한 분석가.")
	assert.Contains(t, req.SystemInstructions, "반드시 한국어로 작성하세요")
	assert.Contains(t, req.Task, "Analyze the snack box market")
	assert.Contains(t, req.Task, "원본 요청: 기업 행사")
	assert.False(t, req.JSONMode)
	assert.InDelta(t, defaultTemperature, req.Temperature, 0.0001)
}

func TestThinkWithCustomLanguage(t *testing.T) {
	backend := &stubBackend{result: &llm.Result{Text: "ok"}}
	ag := New(backend, Profile{Name: "reviewer"}, WithLanguage("English"), WithTemperature(0.2))

	_, err := ag.Think(context.Background(), "review", "")
	require.NoError(t, err)
	assert.Contains(t, ag.SystemInstructions(), "반드시 English로")
	assert.NotContains(t, backend.requests[0].Task, "참고 맥락")
}

func TestThinkWrapsUntypedFailures(t *testing.T) {
	backend := &stubBackend{err: errors.New("connection refused")}
	ag := New(backend, Profile{Name: "writer"})

	_, err := ag.Think(context.Background(), "draft", "ctx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrBackend))
	assert.Len(t, backend.requests, 1)
}

func TestThinkKeepsTypedBackendError(t *testing.T) {
	original := llm.BackendFailure("openai", errors.New("timeout"), "请求 OpenAI 失败")
	ag := New(&stubBackend{err: original}, Profile{Name: "writer"})

	_, err := ag.Think(context.Background(), "draft", "")
	assert.Same(t, original, err)
}

func TestThinkEmptyResult(t *testing.T) {
	ag := New(&stubBackend{result: &llm.Result{Text: " "}}, Profile{Name: "writer"})
	_, err := ag.Think(context.Background(), "draft", "")
	assert.True(t, errors.Is(err, llm.ErrBackend))
}

func TestThinkValidation(t *testing.T) {
	_, err := New(nil, Profile{}).Think(context.Background(), "task", "")
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = New(&stubBackend{}, Profile{}).Think(context.Background(), "  ", "")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
