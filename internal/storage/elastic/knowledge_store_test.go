package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/knowledge"
)

func newFakeES(t *testing.T, handler http.HandlerFunc) *KnowledgeStore {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := NewKnowledgeStore(Config{Addresses: []string{srv.URL}, Index: "kb"})
	require.NoError(t, err)
	return store
}

func TestSearchBuildsWildcardQuery(t *testing.T) {
	var query map[string]any
	store := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/kb/_search"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[
			{"_id":"a","_source":{"question":"도시락 최소 주문?","answer":"20개"}},
			{"_id":"b","_source":{"id":"kb-2","question":"Vegan?","answer":"가능"}}
		]}}`))
	})

	records, err := store.Search(context.Background(), []string{"도시락", "vegan*"}, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "kb-2", records[1].ID)

	assert.EqualValues(t, 20, query["size"])
	should := query["query"].(map[string]any)["bool"].(map[string]any)["should"].([]any)
	require.Len(t, should, 4)
	first := should[0].(map[string]any)["wildcard"].(map[string]any)["question"].(map[string]any)
	assert.Equal(t, "*도시락*", first["value"])
	assert.Equal(t, true, first["case_insensitive"])
	escaped := should[2].(map[string]any)["wildcard"].(map[string]any)["question"].(map[string]any)
	assert.Equal(t, `*vegan\**`, escaped["value"])
}

func TestSearchWithoutKeywordsSkipsRequest(t *testing.T) {
	called := false
	store := newFakeES(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	records, err := store.Search(context.Background(), nil, 20)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, called)
}

func TestSearchErrorIsPersistenceFailure(t *testing.T) {
	store := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})

	_, err := store.Search(context.Background(), []string{"클래스"}, 5)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodePersistenceFailure, xerrors.CodeOf(err))
}

func TestNewKnowledgeStoreRequiresAddress(t *testing.T) {
	_, err := NewKnowledgeStore(Config{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestIndexCreatesWildcardMappingBeforeWriting(t *testing.T) {
	var calls []string
	var mapping map[string]any
	store := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/kb":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/kb":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&mapping))
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
		}
	})

	err := store.Index(context.Background(), knowledge.Record{ID: "kb-1", Question: "도시락 최소 주문?", Answer: "20개"})
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, "HEAD /kb", calls[0])
	assert.Equal(t, "PUT /kb", calls[1])
	assert.Equal(t, "PUT /kb/_doc/kb-1", calls[2])
	properties := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	for _, field := range []string{"question", "answer"} {
		assert.Equal(t, "wildcard", properties[field].(map[string]any)["type"], field)
	}
}

func TestEnsureIndexKeepsExistingIndex(t *testing.T) {
	var methods []string
	store := newFakeES(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
	})

	require.NoError(t, store.EnsureIndex(context.Background()))
	assert.Equal(t, []string{http.MethodHead}, methods)
}
