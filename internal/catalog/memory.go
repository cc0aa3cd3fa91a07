package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MemoryStore 以内存切片提供目录，常用于种子文件与测试。
type MemoryStore struct {
	products []Item
	classes  []Item
}

// NewMemoryStore 按 Kind 拆分条目，未指定 Kind 的视为商品。
func NewMemoryStore(items ...Item) *MemoryStore {
	store := &MemoryStore{}
	for _, item := range items {
		if item.Kind == KindClass {
			store.classes = append(store.classes, item)
			continue
		}
		item.Kind = KindProduct
		store.products = append(store.products, item)
	}
	return store
}

type seedFile struct {
	Products []Item `json:"products" yaml:"products"`
	Classes  []Item `json:"classes" yaml:"classes"`
}

// LoadFile 从 JSON/YAML 种子文件读取目录条目。
func LoadFile(path string) ([]Item, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	var seed seedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &seed)
	default:
		err = json.Unmarshal(content, &seed)
	}
	if err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	items := make([]Item, 0, len(seed.Products)+len(seed.Classes))
	for _, item := range seed.Products {
		item.Kind = KindProduct
		items = append(items, item)
	}
	for _, item := range seed.Classes {
		item.Kind = KindClass
		items = append(items, item)
	}
	return items, nil
}

// ListProducts 实现 Store。
func (m *MemoryStore) ListProducts(context.Context) ([]Item, error) {
	return append([]Item(nil), m.products...), nil
}

// ListClasses 实现 Store。
func (m *MemoryStore) ListClasses(context.Context) ([]Item, error) {
	return append([]Item(nil), m.classes...), nil
}

var _ Store = (*MemoryStore)(nil)
