package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// Kind 区分商品与课程。
type Kind string

const (
	KindProduct Kind = "product"
	KindClass   Kind = "class"
)

// Item 是只读的目录条目，价格单位为韩元。
type Item struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Name        string `json:"name" yaml:"name"`
	Price       int64  `json:"price" yaml:"price"`
	Description string `json:"description" yaml:"description"`
}

// Store 定义目录的只读访问。
type Store interface {
	ListProducts(ctx context.Context) ([]Item, error)
	ListClasses(ctx context.Context) ([]Item, error)
}

// Snapshot 是构造时加载一次的目录快照，之后只读共享。
type Snapshot struct {
	products []Item
	classes  []Item
	rendered string
}

// Load 从存储读取一次商品与课程，生成快照。
func Load(ctx context.Context, store Store) (*Snapshot, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置目录存储")
	}
	products, err := store.ListProducts(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "加载商品目录失败")
	}
	classes, err := store.ListClasses(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "加载课程目录失败")
	}
	return NewSnapshot(products, classes), nil
}

// NewSnapshot 直接由条目构造快照。
func NewSnapshot(products, classes []Item) *Snapshot {
	s := &Snapshot{
		products: append([]Item(nil), products...),
		classes:  append([]Item(nil), classes...),
	}
	s.rendered = s.render()
	return s
}

// Products 返回商品副本。
func (s *Snapshot) Products() []Item { return append([]Item(nil), s.products...) }

// Classes 返回课程副本。
func (s *Snapshot) Classes() []Item { return append([]Item(nil), s.classes...) }

// Len 返回条目总数。
func (s *Snapshot) Len() int { return len(s.products) + len(s.classes) }

// Render 返回完整目录文本，商品在前、课程在后，不做任何过滤。
func (s *Snapshot) Render() string {
	if s == nil {
		return ""
	}
	return s.rendered
}

func (s *Snapshot) render() string {
	var b strings.Builder
	b.WriteString("[상품 목록]\n")
	if len(s.products) == 0 {
		b.WriteString("- (등록된 상품 없음)\n")
	}
	for _, item := range s.products {
		b.WriteString(Line(item))
		b.WriteString("\n")
	}
	b.WriteString("[클래스 목록]\n")
	if len(s.classes) == 0 {
		b.WriteString("- (등록된 클래스 없음)\n")
	}
	for _, item := range s.classes {
		b.WriteString(Line(item))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Line 渲染单个条目，例如 "- 프리미엄 간식 박스 (480,000원): 설명"。
func Line(item Item) string {
	line := fmt.Sprintf("- %s (%s원)", strings.TrimSpace(item.Name), FormatPrice(item.Price))
	if desc := strings.TrimSpace(item.Description); desc != "" {
		line += ": " + desc
	}
	return line
}

// FormatPrice 以千分位格式化价格。
func FormatPrice(price int64) string {
	sign := ""
	if price < 0 {
		sign = "-"
		price = -price
	}
	digits := strconv.FormatInt(price, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}
