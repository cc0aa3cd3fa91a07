package team

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/meaningfill/class-sub000/internal/agent"
	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/llm"
)

// Definition 是团队的声明式描述，可从 YAML 加载。
type Definition struct {
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	Agents      map[string]agent.Profile `yaml:"agents"`
	Stages      []StageDefinition        `yaml:"stages"`
}

// StageDefinition 通过 agent 键引用 Agents 中的人设。
type StageDefinition struct {
	Name  string `yaml:"name"`
	Agent string `yaml:"agent"`
	Task  string `yaml:"task"`
}

type definitionFile struct {
	Teams []Definition `yaml:"teams"`
}

// LoadDefinitions 从 YAML 文件读取团队定义。
func LoadDefinitions(path string) ([]Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取团队定义失败: %w", err)
	}
	var file definitionFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析团队定义失败: %w", err)
	}
	return file.Teams, nil
}

// Build 用给定后端实例化定义中的智能体并组装流水线。
func (d Definition) Build(backend llm.Backend, opts ...agent.Option) (*Pipeline, error) {
	agents := make(map[string]*agent.Agent, len(d.Agents))
	for key, profile := range d.Agents {
		if profile.Name == "" {
			profile.Name = key
		}
		agents[key] = agent.New(backend, profile, opts...)
	}

	stages := make([]Stage, 0, len(d.Stages))
	for _, def := range d.Stages {
		ag, ok := agents[def.Agent]
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("团队 %s 的阶段 %s 引用了未定义的智能体 %q", d.Name, def.Name, def.Agent))
		}
		stages = append(stages, Stage{Name: def.Name, Task: def.Task, Agent: ag})
	}
	return NewPipeline(d.Name, stages...)
}

// MarketingDefinition 返回内置的营销团队：分析 → 策略 → 文案 → 审核 → 定稿。
func MarketingDefinition() Definition {
	return Definition{
		Name:        "marketing",
		Description: "케이터링·클래스 마케팅 캠페인 기획 팀",
		Agents: map[string]agent.Profile{
			"analyst": {
				Name:    "시장 분석가",
				Role:    "고객·시장 분석",
				Persona: "케이터링과 베이킹 클래스 시장을 오래 다뤄 온 분석가입니다. 타깃 고객, 경쟁 상황, 수요 시기를 구체적인 근거와 함께 정리합니다.",
			},
			"strategist": {
				Name:    "마케팅 전략가",
				Role:    "캠페인 전략 수립",
				Persona: "분석 결과를 바탕으로 채널, 메시지, 일정, 예산 배분이 포함된 실행 가능한 전략을 세웁니다.",
			},
			"copywriter": {
				Name:    "콘텐츠 작가",
				Role:    "콘텐츠 초안 작성",
				Persona: "따뜻하고 신뢰감 있는 브랜드 톤으로 블로그, SNS, 상세페이지 초안을 씁니다.",
			},
			"reviewer": {
				Name:    "품질 검토자",
				Role:    "콘텐츠 검토",
				Persona: "사실 관계, 가격 표기, 브랜드 톤, 과장 광고 여부를 꼼꼼히 점검하고 수정안을 제시합니다.",
			},
			"director": {
				Name:    "총괄 디렉터",
				Role:    "최종 승인",
				Persona: "모든 산출물을 검토해 최종 승인본과 실행 체크리스트를 확정합니다.",
			},
		},
		Stages: []StageDefinition{
			{Name: "analysis", Agent: "analyst", Task: "다음 요청에 대한 시장과 고객을 분석하세요: {{input}}"},
			{Name: "strategy", Agent: "strategist", Task: "분석 결과를 바탕으로 마케팅 전략을 수립하세요."},
			{Name: "content-draft", Agent: "copywriter", Task: "전략에 맞는 콘텐츠 초안을 작성하세요."},
			{Name: "review", Agent: "reviewer", Task: "초안을 검토하고 수정 사항을 반영한 개선안을 제시하세요."},
			{Name: "sign-off", Agent: "director", Task: "지금까지의 산출물을 종합해 최종 승인본을 작성하세요."},
		},
	}
}

// Registry 按名称保存可运行的团队。
type Registry struct {
	mu    sync.RWMutex
	teams map[string]*Pipeline
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{teams: make(map[string]*Pipeline)}
}

// Register 注册团队，同名覆盖。
func (r *Registry) Register(p *Pipeline) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[p.Name()] = p
}

// Get 查找团队。
func (r *Registry) Get(name string) (*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.teams[strings.TrimSpace(name)]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("团队不存在: %s", name))
	}
	return p, nil
}

// Names 返回已注册团队名称（按字母序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.teams))
	for name := range r.teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
