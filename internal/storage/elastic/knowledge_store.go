// Package elastic 使用 Elasticsearch 作为问答知识库的检索后端。
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/knowledge"
)

const defaultIndex = "meaningfill-knowledge"

// Config 描述 Elasticsearch 连接参数。
type Config struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// indexMapping 把问答字段声明为 wildcard 类型，子串查询作用于原文而非分词结果。
const indexMapping = `{"mappings":{"properties":{"id":{"type":"keyword"},"question":{"type":"wildcard"},"answer":{"type":"wildcard"}}}}`

// KnowledgeStore 通过 wildcard 子串查询实现 knowledge.Store。
type KnowledgeStore struct {
	client *elasticsearch.Client
	index  string
}

// NewKnowledgeStore 创建 Elasticsearch 知识库。
func NewKnowledgeStore(cfg Config) (*KnowledgeStore, error) {
	if len(cfg.Addresses) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Elasticsearch 地址不能为空")
	}
	esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Elasticsearch 客户端失败")
	}
	index := strings.TrimSpace(cfg.Index)
	if index == "" {
		index = defaultIndex
	}
	return &KnowledgeStore{client: client, index: index}, nil
}

// Search 实现 knowledge.Store。
func (s *KnowledgeStore) Search(ctx context.Context, keywords []string, limit int) ([]knowledge.Record, error) {
	should := make([]map[string]any, 0, len(keywords)*2)
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		pattern := "*" + escapeWildcard(keyword) + "*"
		for _, field := range []string{"question", "answer"} {
			should = append(should, map[string]any{
				"wildcard": map[string]any{
					field: map[string]any{"value": pattern, "case_insensitive": true},
				},
			})
		}
	}
	if len(should) == 0 || limit <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{"should": should, "minimum_should_match": 1},
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码检索请求失败")
	}

	req := esapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "请求 Elasticsearch 失败")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, xerrors.New(xerrors.CodePersistenceFailure, fmt.Sprintf("Elasticsearch 检索失败: %s", readError(res.Body, res.Status())))
	}

	var decoded struct {
		Hits struct {
			Hits []struct {
				ID     string           `json:"_id"`
				Source knowledge.Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析 Elasticsearch 响应失败")
	}

	records := make([]knowledge.Record, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		record := hit.Source
		if record.ID == "" {
			record.ID = hit.ID
		}
		records = append(records, record)
	}
	return records, nil
}

// EnsureIndex 在索引不存在时按 wildcard 映射创建索引，已存在则不做修改。
func (s *KnowledgeStore) EnsureIndex(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询 Elasticsearch 索引失败")
	}
	exists.Body.Close()
	switch exists.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return xerrors.New(xerrors.CodePersistenceFailure, fmt.Sprintf("查询索引状态失败: %s", exists.Status()))
	}

	req := esapi.IndicesCreateRequest{Index: s.index, Body: strings.NewReader(indexMapping)}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "创建 Elasticsearch 索引失败")
	}
	defer res.Body.Close()
	if res.IsError() {
		detail := readError(res.Body, res.Status())
		if strings.Contains(detail, "resource_already_exists_exception") {
			return nil
		}
		return xerrors.New(xerrors.CodePersistenceFailure, fmt.Sprintf("创建索引失败: %s", detail))
	}
	return nil
}

// Index 确保索引映射后写入知识条目，写入后立即刷新以便检索。
func (s *KnowledgeStore) Index(ctx context.Context, records ...knowledge.Record) error {
	if err := s.EnsureIndex(ctx); err != nil {
		return err
	}
	for _, record := range records {
		body, err := json.Marshal(record)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码知识条目失败")
		}
		req := esapi.IndexRequest{
			Index:      s.index,
			DocumentID: record.ID,
			Body:       bytes.NewReader(body),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入 Elasticsearch 失败")
		}
		status := res.Status()
		failed := res.IsError()
		detail := ""
		if failed {
			detail = readError(res.Body, status)
		}
		res.Body.Close()
		if failed {
			return xerrors.New(xerrors.CodePersistenceFailure, fmt.Sprintf("写入知识条目失败: %s", detail))
		}
	}
	return nil
}

func escapeWildcard(value string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`).Replace(value)
}

func readError(body io.Reader, status string) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 1024))
	if len(raw) == 0 {
		return status
	}
	return status + " " + strings.TrimSpace(string(raw))
}

var _ knowledge.Store = (*KnowledgeStore)(nil)
