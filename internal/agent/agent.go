package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/llm"
)

// DefaultLanguage 是业务使用的回答语言。
const DefaultLanguage = "한국어"

const defaultTemperature = 0.7

// Profile 描述一个智能体的身份与人设。
type Profile struct {
	Name    string `yaml:"name" json:"name"`
	Role    string `yaml:"role" json:"role"`
	Persona string `yaml:"persona" json:"persona"`
	Model   string `yaml:"model" json:"model,omitempty"`
}

// Agent 将固定人设与一次大模型调用绑定在一起。
type Agent struct {
	profile      Profile
	backend      llm.Backend
	language     string
	temperature  float32
	instructions string
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLanguage 覆盖强制回答语言。
func WithLanguage(language string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(language) != "" {
			a.language = strings.TrimSpace(language)
		}
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(temperature float32) Option {
	return func(a *Agent) {
		if temperature >= 0 {
			a.temperature = temperature
		}
	}
}

// New 创建一个 Agent。
func New(backend llm.Backend, profile Profile, opts ...Option) *Agent {
	a := &Agent{
		profile:     profile,
		backend:     backend,
		language:    DefaultLanguage,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.instructions = buildInstructions(a.profile, a.language)
	return a
}

// Profile 返回智能体的人设信息。
func (a *Agent) Profile() Profile {
	return a.profile
}

// SystemInstructions 返回发送给后端的系统指令。
func (a *Agent) SystemInstructions() string {
	return a.instructions
}

// Think 以智能体人设完成一项任务。失败时返回 BACKEND_FAILURE，不做重试。
func (a *Agent) Think(ctx context.Context, task, taskContext string) (string, error) {
	if a == nil || a.backend == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型后端")
	}
	if strings.TrimSpace(task) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "任务描述不能为空")
	}

	result, err := a.backend.Complete(ctx, llm.Request{
		SystemInstructions: a.instructions,
		Task:               composeTask(task, taskContext),
		Temperature:        a.temperature,
	})
	if err != nil {
		if errors.Is(err, llm.ErrBackend) {
			return "", err
		}
		return "", llm.BackendFailure(a.profile.Name, err, fmt.Sprintf("智能体 %s 调用失败", a.profile.Name))
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return "", xerrors.New(xerrors.CodeBackendFailure, fmt.Sprintf("智能体 %s 未返回内容", a.profile.Name))
	}
	return result.Text, nil
}

func buildInstructions(profile Profile, language string) string {
	var b strings.Builder
	if profile.Name != "" || profile.Role != "" {
		fmt.Fprintf(&b, "당신은 %s입니다.", strings.TrimSpace(profile.Name))
		if role := strings.TrimSpace(profile.Role); role != "" {
			fmt.Fprintf(&b, " 역할: %s.", role)
		}
		b.WriteString("\n\n")
	}
	if persona := strings.TrimSpace(profile.Persona); persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "[언어 규칙] 입력이 어떤 언어로 작성되었든 모든 답변은 반드시 %s로 작성하세요.", language)
	return b.String()
}

func composeTask(task, taskContext string) string {
	var b strings.Builder
	b.WriteString("## 작업\n")
	b.WriteString(strings.TrimSpace(task))
	if strings.TrimSpace(taskContext) != "" {
		b.WriteString("\n\n## 참고 맥락\n")
		b.WriteString(taskContext)
	}
	return b.String()
}
