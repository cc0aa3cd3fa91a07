package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// Job 是一次待分析的对话轮次。
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	UserText  string    `json:"user_text"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJob 创建带唯一 ID 的分析任务。
func NewJob(sessionID string, seq int64, userText, reply string) Job {
	return Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		UserText:  userText,
		Reply:     reply,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate 检查任务必填字段。
func (j Job) Validate() error {
	if strings.TrimSpace(j.SessionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "分析任务缺少会话 ID")
	}
	if strings.TrimSpace(j.UserText) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "分析任务缺少用户输入")
	}
	return nil
}

func encodeJob(job Job) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码分析任务失败")
	}
	return payload, nil
}

func decodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "解析分析任务失败")
	}
	return job, nil
}

// Handler 处理来自队列的分析任务。
type Handler func(ctx context.Context, job Job) error

// Producer 负责投递分析任务。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 负责消费分析任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
