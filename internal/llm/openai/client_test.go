package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meaningfill/class-sub000/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()
	return client
}

func writeChoice(w http.ResponseWriter, content any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestCompleteSendsSystemAndTask(t *testing.T) {
	var captured struct {
		Authorization string
		Body          struct {
			Model          string            `json:"model"`
			Temperature    float64           `json:"temperature"`
			ResponseFormat map[string]string `json:"response_format"`
			Messages       []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		captured.Authorization = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.Body))
		writeChoice(w, "  추천드립니다  ")
	})

	res, err := client.Complete(context.Background(), llm.Request{
		SystemInstructions: "당신은 케이터링 상담사입니다.",
		Task:               "간식 박스 추천",
		Temperature:        0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "추천드립니다", res.Text)
	assert.Equal(t, "Bearer test", captured.Authorization)
	assert.Equal(t, defaultModelName, captured.Body.Model)
	assert.InDelta(t, 0.7, captured.Body.Temperature, 0.001)
	assert.Nil(t, captured.Body.ResponseFormat)
	require.Len(t, captured.Body.Messages, 2)
	assert.Equal(t, "system", captured.Body.Messages[0].Role)
	assert.Equal(t, "간식 박스 추천", captured.Body.Messages[1].Content)
}

func TestCompleteJSONModeAcceptsContentParts(t *testing.T) {
	var format map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ResponseFormat map[string]string `json:"response_format"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		format = body.ResponseFormat
		writeChoice(w, []map[string]string{{"type": "text", "text": `{"intent":"greeting"}`}})
	})

	res, err := client.Complete(context.Background(), llm.Request{Task: "분석", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, "json_object", format["type"])
	assert.JSONEq(t, `{"intent":"greeting"}`, string(res.JSON))
}

func TestCompleteHTTPErrorIsBackendFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.Complete(context.Background(), llm.Request{Task: "test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrBackend))
}

func TestCompleteEmptyContentIsBackendFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChoice(w, "")
	})

	_, err := client.Complete(context.Background(), llm.Request{Task: "test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrBackend))
}
