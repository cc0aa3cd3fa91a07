package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

type countingStore struct {
	*MemoryStore
	productCalls int
	classCalls   int
	err          error
}

func (c *countingStore) ListProducts(ctx context.Context) ([]Item, error) {
	c.productCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.MemoryStore.ListProducts(ctx)
}

func (c *countingStore) ListClasses(ctx context.Context) ([]Item, error) {
	c.classCalls++
	return c.MemoryStore.ListClasses(ctx)
}

func TestFormatPrice(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 480000: "480,000", 1234567: "1,234,567", -5000: "-5,000"}
	for in, want := range cases {
		assert.Equal(t, want, FormatPrice(in))
	}
}

func TestSnapshotRendersEveryItem(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(
		Item{ID: "p1", Name: "프리미엄 간식 박스", Price: 480000, Description: "30인 기준"},
		Item{ID: "p2", Name: "VIP 케이터링", Price: 600000},
		Item{ID: "c1", Kind: KindClass, Name: "마카롱 원데이 클래스", Price: 65000},
	)}

	snap, err := Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, store.productCalls)
	assert.Equal(t, 1, store.classCalls)
	assert.Equal(t, 3, snap.Len())

	rendered := snap.Render()
	assert.Contains(t, rendered, "- 프리미엄 간식 박스 (480,000원): 30인 기준")
	assert.Contains(t, rendered, "- VIP 케이터링 (600,000원)")
	assert.Contains(t, rendered, "- 마카롱 원데이 클래스 (65,000원)")
	assert.Less(t, strings.Index(rendered, "[상품 목록]"), strings.Index(rendered, "[클래스 목록]"))

	_ = snap.Render()
	assert.Equal(t, 1, store.productCalls)
}

func TestLoadWrapsStoreError(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), err: errors.New("timeout")}
	_, err := Load(context.Background(), store)
	assert.Equal(t, xerrors.CodePersistenceFailure, xerrors.CodeOf(err))

	_, err = Load(context.Background(), nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestLoadFileSplitsKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - id: p1
    name: 간식 박스
    price: 480000
classes:
  - id: c1
    name: 케이크 클래스
    price: 90000
`), 0o644))

	items, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, items, 2)

	store := NewMemoryStore(items...)
	classes, err := store.ListClasses(context.Background())
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, KindClass, classes[0].Kind)
}
