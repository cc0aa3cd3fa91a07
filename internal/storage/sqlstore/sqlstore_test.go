package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meaningfill/class-sub000/internal/catalog"
	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/session"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "meaningfill.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: DriverSQLite})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Open(context.Background(), Config{Driver: "postgres", DSN: "x"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openSQLite(t)
	applied, err := db.MigrateVersions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestLoadMigrationFilesPerDialect(t *testing.T) {
	for _, dialect := range []string{DriverMySQL, DriverSQLite} {
		files, err := loadMigrationFiles(dialect)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "0001", files[0].version)
		assert.Equal(t, "0002", files[1].version)
	}
}

func TestSessionStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(openSQLite(t))

	created, err := store.Create(ctx)
	require.NoError(t, err)

	turn, err := store.AppendTurn(ctx, created.ID, session.RoleUser, "원데이 클래스 일정 알려주세요")
	require.NoError(t, err)
	assert.Equal(t, int64(1), turn.Seq)
	turn, err = store.AppendTurn(ctx, created.ID, session.RoleAssistant, "매주 토요일입니다.")
	require.NoError(t, err)
	assert.Equal(t, int64(2), turn.Seq)

	intent := session.Intent{Intent: session.IntentInquiry, Topic: session.TopicClass, SentimentScore: 4, KeyNeeds: []string{"일정"}, PurchaseProbability: 40}
	res, err := store.UpdateIntent(ctx, created.ID, intent, session.ConversionStatus(40), 2)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	stale := intent
	stale.PurchaseProbability = 95
	res, err = store.UpdateIntent(ctx, created.ID, stale, session.ConversionStatus(95), 1)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.Equal(t, int64(2), got.AnalyzedSeq)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "매주 토요일입니다.", got.Turns[1].Content)
	require.NotNil(t, got.LatestIntent)
	assert.Equal(t, 40, got.LatestIntent.PurchaseProbability)
	assert.Equal(t, []string{"일정"}, got.LatestIntent.KeyNeeds)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, session.ErrNotFound))
	_, err = store.AppendTurn(ctx, "missing", session.RoleUser, "hi")
	assert.True(t, errors.Is(err, session.ErrNotFound))
}

func TestKnowledgeStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store := NewKnowledgeStore(openSQLite(t))
	require.NoError(t, store.Insert(ctx,
		knowledge.Record{ID: "k1", Question: "단체 도시락 최소 수량은?", Answer: "20개부터 가능합니다."},
		knowledge.Record{ID: "k2", Question: "Vegan menu?", Answer: "비건 케이터링을 제공합니다."},
		knowledge.Record{ID: "k3", Question: "주차 가능한가요?", Answer: "건물 지하 주차장 이용 가능"},
		knowledge.Record{ID: "k4", Question: "할인율 100%_이벤트?", Answer: "없습니다"},
	))

	records, err := store.Search(ctx, []string{"도시락", "vegan"}, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"k1", "k2"}, ids)

	records, err = store.Search(ctx, []string{"도시락", "vegan", "주차"}, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = store.Search(ctx, []string{"0%_"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "k4", records[0].ID)

	records, err = store.Search(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	err = store.Insert(ctx, knowledge.Record{ID: "k1", Question: "dup"})
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))
}

func TestCatalogStoreSQLite(t *testing.T) {
	ctx := context.Background()
	store := NewCatalogStore(openSQLite(t))
	require.NoError(t, store.Insert(ctx,
		catalog.Item{ID: "p1", Kind: catalog.KindProduct, Name: "프리미엄 도시락", Price: 15000, Description: "한식 구성"},
		catalog.Item{ID: "c1", Kind: catalog.KindClass, Name: "창업 클래스", Price: 480000, Description: "4주 과정"},
		catalog.Item{ID: "p2", Kind: catalog.KindProduct, Name: "핑거푸드 세트", Price: 220000, Description: "30인 기준"},
	))

	snapshot, err := catalog.Load(ctx, store)
	require.NoError(t, err)
	products := snapshot.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ID)
	assert.Equal(t, "p2", products[1].ID)
	assert.Contains(t, snapshot.Render(), "창업 클래스 (480,000원)")

	err = store.Insert(ctx, catalog.Item{ID: "x", Kind: "service"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSessionStore(NewWithDB(db, DriverMySQL)), mock
}

func TestSessionStoreMySQLStaleUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, analyzed_seq FROM sessions WHERE id = ? FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "analyzed_seq"}).AddRow("hot_lead", 5))
	mock.ExpectRollback()

	res, err := store.UpdateIntent(context.Background(), "s1", session.Intent{Intent: session.IntentGreeting}, session.StatusActive, 3)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, session.StatusHotLead, res.Current)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreMySQLHotLeadTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, analyzed_seq FROM sessions WHERE id = ? FOR UPDATE`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "analyzed_seq"}).AddRow("active", 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET latest_intent = ?, status = ?, analyzed_seq = ?, updated_at = ? WHERE id = ?`)).
		WithArgs(sqlmock.AnyArg(), "hot_lead", int64(4), sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	intent := session.Intent{Intent: session.IntentPurchase, Topic: session.TopicCatering, SentimentScore: 5, PurchaseProbability: 88}
	res, err := store.UpdateIntent(context.Background(), "s1", intent, session.StatusHotLead, 4)
	require.NoError(t, err)
	assert.True(t, res.BecameHotLead())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreMySQLDuplicateID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := store.Create(context.Background())
	assert.Equal(t, xerrors.CodeConflict, xerrors.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
