package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

type recordingStore struct {
	keywords []string
	limit    int
	records  []Record
	err      error
}

func (s *recordingStore) Search(_ context.Context, keywords []string, limit int) ([]Record, error) {
	s.keywords = keywords
	s.limit = limit
	return s.records, s.err
}

func TestKeywordsDropsShortTokens(t *testing.T) {
	assert.Equal(t, []string{"50만원대", "간식", "박스", "추천"}, Keywords("50만원대 간식 박스 추천"))
	assert.Equal(t, []string{"vegan", "50", "vegan"}, Keywords("a vegan 50 x vegan 가"))
	assert.Empty(t, Keywords("  \t\n "))
}

func TestRankQuestionMatchBeatsAnswerMatch(t *testing.T) {
	answerOnly := Record{ID: "answer", Question: "도시락 메뉴가 있나요?", Answer: "vegan 옵션 제공"}
	questionHit := Record{ID: "question", Question: "vegan 메뉴 가능한가요?", Answer: "네 가능합니다"}

	ranked := Rank([]Record{answerOnly, questionHit}, []string{"vegan", "50"}, 5)
	require.Len(t, ranked, 2)
	assert.Equal(t, "question", ranked[0].Record.ID)
	assert.Equal(t, 2, ranked[0].Score)
	assert.Equal(t, 1, ranked[1].Score)
}

func TestRankTiesKeepStoreOrder(t *testing.T) {
	records := []Record{
		{ID: "1", Question: "간식"},
		{ID: "2", Question: "박스"},
		{ID: "3", Question: "간식 박스"},
	}
	ranked := Rank(records, []string{"간식", "박스"}, 0)
	ids := []string{ranked[0].Record.ID, ranked[1].Record.ID, ranked[2].Record.ID}
	assert.Equal(t, []string{"3", "1", "2"}, ids)
}

func TestIndexUsesFirstThreeKeywordsAndCaps(t *testing.T) {
	records := make([]Record, 0, 20)
	for i := 0; i < 20; i++ {
		records = append(records, Record{ID: fmt.Sprint(i), Question: "기타 문의", Answer: "간식 안내"})
	}
	records[7].Question = "간식 박스 가격"
	records[12].Question = "간식 구성"
	store := &recordingStore{records: records}

	matches, err := NewIndex(store).Retrieve(context.Background(), "50만원대 간식 박스 추천")
	require.NoError(t, err)

	assert.Equal(t, []string{"50만원대", "간식", "박스"}, store.keywords)
	assert.Equal(t, 20, store.limit)
	require.Len(t, matches, 5)
	assert.Equal(t, "7", matches[0].Record.ID)
	assert.Equal(t, "12", matches[1].Record.ID)
	assert.Equal(t, "0", matches[2].Record.ID)
}

func TestIndexKeepsRepeatedKeywords(t *testing.T) {
	store := &recordingStore{records: []Record{
		{ID: "box", Question: "박스 구성"},
		{ID: "snack", Question: "간식 종류"},
	}}

	matches, err := NewIndex(store).Retrieve(context.Background(), "간식 간식 박스 추천")
	require.NoError(t, err)

	assert.Equal(t, []string{"간식", "간식", "박스"}, store.keywords)
	require.Len(t, matches, 2)
	assert.Equal(t, "snack", matches[0].Record.ID)
	assert.Equal(t, 4, matches[0].Score)
	assert.Equal(t, 2, matches[1].Score)
}

func TestIndexOptionsOverrideDefaults(t *testing.T) {
	records := []Record{
		{ID: "1", Question: "간식"},
		{ID: "2", Question: "박스"},
		{ID: "3", Question: "간식 박스 추천"},
	}
	store := &recordingStore{records: records}

	idx := NewIndex(store, WithMaxKeywords(1), WithCandidateLimit(2), WithTopN(1), WithTopN(0))
	matches, err := idx.Retrieve(context.Background(), "간식 박스 추천")
	require.NoError(t, err)

	assert.Equal(t, []string{"간식"}, store.keywords)
	assert.Equal(t, 2, store.limit)
	require.Len(t, matches, 1)
	assert.Equal(t, "1", matches[0].Record.ID)
}

func TestIndexSkipsStoreWithoutKeywords(t *testing.T) {
	store := &recordingStore{}
	matches, err := NewIndex(store).Retrieve(context.Background(), "a b c")
	require.NoError(t, err)
	assert.Nil(t, matches)
	assert.Nil(t, store.keywords)
}

func TestIndexWrapsStoreFailure(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	_, err := NewIndex(store).Retrieve(context.Background(), "간식 추천")
	assert.Equal(t, xerrors.CodePersistenceFailure, xerrors.CodeOf(err))
}

func TestMemoryStoreSearchOrSemantics(t *testing.T) {
	store := NewMemoryStore(
		Record{ID: "a", Question: "Vegan 도시락", Answer: "가능"},
		Record{ID: "b", Question: "배송", Answer: "서울 전 지역 50km"},
		Record{ID: "c", Question: "결제", Answer: "카드"},
	)
	got, err := store.Search(context.Background(), []string{"vegan", "50"}, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	limited, err := store.Search(context.Background(), []string{"vegan", "50"}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLoadFileJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "kb.json")
	yamlPath := filepath.Join(dir, "kb.yaml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"question":"주차 되나요?","answer":"2시간 무료"}]`), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte("- question: 환불 규정\n  answer: 7일 전 전액\n"), 0o644))

	fromJSON, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "2시간 무료", fromJSON[0].Answer)

	fromYAML, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "환불 규정", fromYAML[0].Question)

	_, err = LoadFile("")
	assert.Error(t, err)
}
