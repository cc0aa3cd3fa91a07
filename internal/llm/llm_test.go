package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meaningfill/class-sub000/internal/observability/metrics"
)

func TestNormalizeEmptyIsBackendFailure(t *testing.T) {
	_, err := Normalize("openai", "  \n ", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
}

func TestNormalizeText(t *testing.T) {
	res, err := Normalize("gemini", "  안녕하세요  ", false)
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", res.Text)
	assert.Equal(t, "gemini", res.Provider)
	assert.Empty(t, res.JSON)
}

func TestNormalizeJSONStripsFence(t *testing.T) {
	raw := "```json\n{\"intent\":\"purchase\",\"purchase_probability\":80}\n```"
	res, err := Normalize("openai", raw, true)
	require.NoError(t, err)

	var decoded struct {
		Intent      string `json:"intent"`
		Probability int    `json:"purchase_probability"`
	}
	require.NoError(t, res.Decode(&decoded))
	assert.Equal(t, "purchase", decoded.Intent)
	assert.Equal(t, 80, decoded.Probability)
}

func TestNormalizeJSONRejectsProse(t *testing.T) {
	_, err := Normalize("openai", "죄송합니다, 분석할 수 없습니다.", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
	assert.False(t, errors.Is(err, ErrBackend))
}

func TestInstrumentRecordsOutcome(t *testing.T) {
	failing := Instrument("stub", BackendFunc(func(context.Context, Request) (*Result, error) {
		return nil, BackendFailure("stub", errors.New("connection reset"), "调用失败")
	}))
	before := testutil.ToFloat64(metrics.BackendCalls.WithLabelValues("stub", "json", "BACKEND_FAILURE"))

	_, err := failing.Complete(context.Background(), Request{JSONMode: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))

	after := testutil.ToFloat64(metrics.BackendCalls.WithLabelValues("stub", "json", "BACKEND_FAILURE"))
	assert.Equal(t, before+1, after)
}

func TestNormalizeJSONRejectsProseAroundObject(t *testing.T) {
	for _, raw := range []string{
		`분석 결과는 다음과 같습니다: {"intent":"purchase","purchase_probability":90} 참고하세요.`,
		"결과:\n```json\n{\"intent\":\"purchase\"}\n```",
		`{"intent":"purchase"} 이상입니다.`,
	} {
		_, err := Normalize("openai", raw, true)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrParse), raw)
	}
}
