package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meaningfill/class-sub000/internal/catalog"
	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/knowledge"
)

// KnowledgeStore 基于 LIKE 子串匹配检索问答知识。
type KnowledgeStore struct {
	db *DB
}

// NewKnowledgeStore 创建 KnowledgeStore。
func NewKnowledgeStore(db *DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Search 实现 knowledge.Store：任一关键词出现在问题或答案中即命中。
func (s *KnowledgeStore) Search(ctx context.Context, keywords []string, limit int) ([]knowledge.Record, error) {
	var (
		clauses []string
		args    []any
	)
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
		clauses = append(clauses, `LOWER(question) LIKE ? ESCAPE '!' OR LOWER(answer) LIKE ? ESCAPE '!'`)
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `SELECT id, question, answer FROM knowledge_entries WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "检索知识库失败")
	}
	defer rows.Close()

	var records []knowledge.Record
	for rows.Next() {
		var record knowledge.Record
		if err := rows.Scan(&record.ID, &record.Question, &record.Answer); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析知识条目失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历知识条目失败")
	}
	return records, nil
}

// Insert 写入知识条目，ID 为空时自动生成。
func (s *KnowledgeStore) Insert(ctx context.Context, records ...knowledge.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	base := time.Now().UnixMilli()
	for i, record := range records {
		if strings.TrimSpace(record.Question) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "知识条目问题不能为空")
		}
		id := strings.TrimSpace(record.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge_entries (id, question, answer, created_at) VALUES (?, ?, ?, ?)`,
			id, record.Question, record.Answer, base+int64(i)); err != nil {
			if isDuplicate(err) {
				return xerrors.Wrap(xerrors.CodeConflict, err, "知识条目已存在: "+id)
			}
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入知识条目失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交事务失败")
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return replacer.Replace(value)
}

// CatalogStore 从 catalog_items 表读取商品与课程。
type CatalogStore struct {
	db *DB
}

// NewCatalogStore 创建 CatalogStore。
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// ListProducts 实现 catalog.Store。
func (s *CatalogStore) ListProducts(ctx context.Context) ([]catalog.Item, error) {
	return s.list(ctx, catalog.KindProduct)
}

// ListClasses 实现 catalog.Store。
func (s *CatalogStore) ListClasses(ctx context.Context) ([]catalog.Item, error) {
	return s.list(ctx, catalog.KindClass)
}

func (s *CatalogStore) list(ctx context.Context, kind catalog.Kind) ([]catalog.Item, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT id, kind, name, price, description FROM catalog_items WHERE kind = ? ORDER BY position ASC, id ASC`, string(kind))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询目录失败")
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var (
			item     catalog.Item
			itemKind string
		)
		if err := rows.Scan(&item.ID, &itemKind, &item.Name, &item.Price, &item.Description); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析目录条目失败")
		}
		item.Kind = catalog.Kind(itemKind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历目录失败")
	}
	return items, nil
}

// Insert 按给定顺序写入目录条目。
func (s *CatalogStore) Insert(ctx context.Context, items ...catalog.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	for i, item := range items {
		if item.Kind != catalog.KindProduct && item.Kind != catalog.KindClass {
			return xerrors.New(xerrors.CodeInvalidArgument, "未知目录类型: "+string(item.Kind))
		}
		id := strings.TrimSpace(item.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO catalog_items (id, kind, name, price, description, position) VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(item.Kind), item.Name, item.Price, item.Description, i); err != nil {
			if isDuplicate(err) {
				return xerrors.Wrap(xerrors.CodeConflict, err, "目录条目已存在: "+id)
			}
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入目录条目失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交事务失败")
	}
	return nil
}

var (
	_ knowledge.Store = (*KnowledgeStore)(nil)
	_ catalog.Store   = (*CatalogStore)(nil)
)
