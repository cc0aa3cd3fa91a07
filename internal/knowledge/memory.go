package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore 在内存中保存知识条目，按插入顺序返回命中结果。
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore 创建内存知识库。
func NewMemoryStore(records ...Record) *MemoryStore {
	return &MemoryStore{records: append([]Record(nil), records...)}
}

// LoadFile 从 JSON 或 YAML 文件加载知识条目。
func LoadFile(path string) ([]Record, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &records)
	default:
		err = json.Unmarshal(content, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return records, nil
}

// Add 追加知识条目。
func (m *MemoryStore) Add(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// Search 实现 Store 接口。
func (m *MemoryStore) Search(_ context.Context, keywords []string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Record, 0)
	for _, record := range m.records {
		if !Matches(record, keywords) {
			continue
		}
		results = append(results, record)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

var _ Store = (*MemoryStore)(nil)
