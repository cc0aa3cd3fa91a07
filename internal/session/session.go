package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// Role 标识对话轮次的说话方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status 是会话的生命周期状态。
type Status string

const (
	StatusNew     Status = "new"
	StatusActive  Status = "active"
	StatusHotLead Status = "hot_lead"
)

// HotLeadThreshold 之上的购买概率会把会话标记为高意向。
const HotLeadThreshold = 70

// Turn 是一条对话记录。Seq 在会话内单调递增，从 1 开始。
type Turn struct {
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// 意图与话题的取值。
const (
	IntentInquiry   = "inquiry"
	IntentPurchase  = "purchase"
	IntentComplaint = "complaint"
	IntentGreeting  = "greeting"

	TopicCatering = "catering"
	TopicClass    = "class"
	TopicOther    = "other"
)

// Intent 是影子分析提取出的结构化信号。
type Intent struct {
	Intent              string   `json:"intent"`
	Topic               string   `json:"topic"`
	SentimentScore      int      `json:"sentiment_score"`
	KeyNeeds            []string `json:"key_needs"`
	PurchaseProbability int      `json:"purchase_probability"`
}

// Validate 检查枚举与取值范围。
func (i Intent) Validate() error {
	switch i.Intent {
	case IntentInquiry, IntentPurchase, IntentComplaint, IntentGreeting:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知意图: %q", i.Intent))
	}
	switch i.Topic {
	case TopicCatering, TopicClass, TopicOther:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知话题: %q", i.Topic))
	}
	if i.SentimentScore < 1 || i.SentimentScore > 5 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("情绪分超出范围: %d", i.SentimentScore))
	}
	if i.PurchaseProbability < 0 || i.PurchaseProbability > 100 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("购买概率超出范围: %d", i.PurchaseProbability))
	}
	return nil
}

// Normalized 返回去重、去空白后的副本。
func (i Intent) Normalized() Intent {
	out := i
	out.KeyNeeds = make([]string, 0, len(i.KeyNeeds))
	seen := make(map[string]struct{}, len(i.KeyNeeds))
	for _, need := range i.KeyNeeds {
		need = strings.TrimSpace(need)
		if need == "" {
			continue
		}
		if _, ok := seen[need]; ok {
			continue
		}
		seen[need] = struct{}{}
		out.KeyNeeds = append(out.KeyNeeds, need)
	}
	return out
}

// ConversionStatus 根据购买概率计算转化状态。
func ConversionStatus(purchaseProbability int) Status {
	if purchaseProbability > HotLeadThreshold {
		return StatusHotLead
	}
	return StatusActive
}

// Session 是一次对话的持久化身份与累积信号。
type Session struct {
	ID           string    `json:"id"`
	Status       Status    `json:"conversion_status"`
	LatestIntent *Intent   `json:"latest_intent,omitempty"`
	AnalyzedSeq  int64     `json:"analyzed_seq"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpdateResult 描述一次意图写入的效果。
type UpdateResult struct {
	Applied  bool
	Previous Status
	Current  Status
}

// BecameHotLead 判断本次写入是否让会话首次进入高意向状态。
func (r UpdateResult) BecameHotLead() bool {
	return r.Applied && r.Current == StatusHotLead && r.Previous != StatusHotLead
}

// Store 定义会话持久化接口。
//
// UpdateIntent 只在 seq 不小于已分析过的最大序号时写入，序号相同则后写覆盖；
// 过期结果返回 Applied=false 而不是错误。
type Store interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	AppendTurn(ctx context.Context, id string, role Role, content string) (Turn, error)
	UpdateIntent(ctx context.Context, id string, intent Intent, status Status, seq int64) (UpdateResult, error)
	Close() error
}

var (
	// ErrNotFound 表示会话不存在。
	ErrNotFound = xerrors.New(xerrors.CodeNotFound, "会话不存在")
	// ErrInvalidTurn 表示轮次内容非法。
	ErrInvalidTurn = xerrors.New(xerrors.CodeInvalidArgument, "对话轮次非法")
)

// ValidateTurn 校验角色与内容。
func ValidateTurn(role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, ErrInvalidTurn, fmt.Sprintf("未知角色: %q", role))
	}
	if strings.TrimSpace(content) == "" {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, ErrInvalidTurn, "对话内容不能为空")
	}
	return nil
}

// NextStatus 计算追加轮次后的状态：NEW 在第一条轮次后变为 ACTIVE。
func NextStatus(current Status) Status {
	if current == StatusNew || current == "" {
		return StatusActive
	}
	return current
}
