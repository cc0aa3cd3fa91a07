package knowledge

import (
	"context"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

const (
	defaultMaxKeywords    = 3
	defaultCandidateLimit = 20
	defaultTopN           = 5
)

// Index 在知识库之上完成候选召回与重排。
type Index struct {
	store          Store
	maxKeywords    int
	candidateLimit int
	topN           int
}

// Option 定义可选配置。
type Option func(*Index)

// WithMaxKeywords 设置参与召回的关键词数量上限。
func WithMaxKeywords(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.maxKeywords = n
		}
	}
}

// WithCandidateLimit 设置从存储召回的候选上限。
func WithCandidateLimit(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.candidateLimit = n
		}
	}
}

// WithTopN 设置重排后保留的条数。
func WithTopN(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.topN = n
		}
	}
}

// NewIndex 创建检索索引。
func NewIndex(store Store, opts ...Option) *Index {
	idx := &Index{
		store:          store,
		maxKeywords:    defaultMaxKeywords,
		candidateLimit: defaultCandidateLimit,
		topN:           defaultTopN,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(idx)
		}
	}
	return idx
}

// Retrieve 对用户输入做关键词召回并按重叠分重排。
func (i *Index) Retrieve(ctx context.Context, text string) ([]Match, error) {
	if i == nil || i.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置知识库")
	}
	keywords := Keywords(text)
	if len(keywords) == 0 {
		return nil, nil
	}
	query := keywords
	if len(query) > i.maxKeywords {
		query = query[:i.maxKeywords]
	}
	candidates, err := i.store.Search(ctx, query, i.candidateLimit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "知识库检索失败")
	}
	if len(candidates) > i.candidateLimit {
		candidates = candidates[:i.candidateLimit]
	}
	return Rank(candidates, keywords, i.topN), nil
}
