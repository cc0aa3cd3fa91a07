package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// Thinker 是流水线阶段所需的智能体能力。
type Thinker interface {
	Think(ctx context.Context, task, taskContext string) (string, error)
}

// Stage 描述流水线中的一个阶段，Name 同时是其产出物的名称。
type Stage struct {
	Name  string
	Task  string
	Agent Thinker
}

// Artifact 是一个阶段的完整输出。
type Artifact struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Report 按阶段顺序保存全部产出物，仅在所有阶段成功后返回。
type Report struct {
	Team      string     `json:"team"`
	Input     string     `json:"input"`
	Artifacts []Artifact `json:"artifacts"`
}

// Get 按名称查找产出物。
func (r *Report) Get(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, artifact := range r.Artifacts {
		if artifact.Name == name {
			return artifact.Text, true
		}
	}
	return "", false
}

// Pipeline 严格按顺序执行各阶段，后续阶段读取之前的全部产出。
type Pipeline struct {
	name   string
	stages []Stage
}

// NewPipeline 校验阶段定义并构造流水线。
func NewPipeline(name string, stages ...Stage) (*Pipeline, error) {
	if strings.TrimSpace(name) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "团队名称不能为空")
	}
	if len(stages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("团队 %s 没有任何阶段", name))
	}
	seen := make(map[string]struct{}, len(stages))
	for i, stage := range stages {
		if strings.TrimSpace(stage.Name) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("团队 %s 第 %d 个阶段缺少名称", name, i+1))
		}
		if stage.Agent == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("阶段 %s 未配置智能体", stage.Name))
		}
		if _, dup := seen[stage.Name]; dup {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("阶段名称重复: %s", stage.Name))
		}
		seen[stage.Name] = struct{}{}
	}
	return &Pipeline{name: name, stages: append([]Stage(nil), stages...)}, nil
}

// Name 返回团队名称。
func (p *Pipeline) Name() string { return p.name }

// StageNames 返回阶段名称列表。
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name
	}
	return names
}

// Run 执行流水线。任一阶段失败立即中止，原样返回该错误且不返回部分报告。
func (p *Pipeline) Run(ctx context.Context, input string) (*Report, error) {
	if strings.TrimSpace(input) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "输入不能为空")
	}
	log := logger.Named("team").With(slog.String("team", p.name))
	artifacts := make([]Artifact, 0, len(p.stages))

	for _, stage := range p.stages {
		start := time.Now()
		output, err := stage.Agent.Think(ctx, renderTask(stage.Task, input), accumulate(input, artifacts))
		metrics.ObserveStage(p.name, stage.Name, time.Since(start))
		if err != nil {
			metrics.PipelineRuns.WithLabelValues(p.name, "failed").Inc()
			log.Error("团队阶段执行失败",
				slog.String("stage", stage.Name),
				slog.Int("completed", len(artifacts)),
				slog.Any("error", err),
			)
			return nil, err
		}
		artifacts = append(artifacts, Artifact{Name: stage.Name, Text: output})
		log.Debug("团队阶段完成", slog.String("stage", stage.Name), slog.Duration("elapsed", time.Since(start)))
	}

	metrics.PipelineRuns.WithLabelValues(p.name, "succeeded").Inc()
	logger.Audit().Info("团队流水线完成",
		slog.String("team", p.name),
		slog.Int("artifacts", len(artifacts)),
	)
	return &Report{Team: p.name, Input: input, Artifacts: artifacts}, nil
}

func renderTask(template, input string) string {
	if strings.TrimSpace(template) == "" {
		return input
	}
	return strings.ReplaceAll(template, "{{input}}", input)
}

// accumulate 拼接原始输入与已完成阶段的原文输出。
func accumulate(input string, artifacts []Artifact) string {
	var b strings.Builder
	b.WriteString("## 원본 요청\n")
	b.WriteString(input)
	for _, artifact := range artifacts {
		b.WriteString("\n\n## ")
		b.WriteString(artifact.Name)
		b.WriteString("\n")
		b.WriteString(artifact.Text)
	}
	return b.String()
}
