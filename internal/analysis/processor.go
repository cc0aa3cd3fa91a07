package analysis

import (
	"context"
	"log/slog"
	"time"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// JobAnalyzer 定义处理器所需的分析能力。
type JobAnalyzer interface {
	Analyze(ctx context.Context, job Job) (Outcome, error)
}

// Processor 负责从队列消费分析任务。
type Processor struct {
	analyzer    JobAnalyzer
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(analyzer JobAnalyzer, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		analyzer:    analyzer,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("analysis")
	}
	return p
}

// Start 启动消费循环，阻塞直到 ctx 取消或队列关闭。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.analyzer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "分析处理器未初始化")
	}
	p.logger.Info("分析处理器已启动", slog.Int("workers", p.workerCount))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 只记录结果，从不把错误交还给队列。
func (p *Processor) handle(ctx context.Context, job Job) error {
	start := time.Now()
	outcome, err := p.analyzer.Analyze(ctx, job)
	metrics.ObserveAnalysis(string(outcome), time.Since(start))
	if err == nil {
		p.logger.Debug("分析任务完成",
			slog.String("job_id", job.ID),
			slog.String("session_id", job.SessionID),
			slog.String("outcome", string(outcome)))
		return nil
	}

	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.Int64("seq", job.Seq),
		slog.String("outcome", string(outcome)),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	}
	if xerrors.SeverityOf(err) == xerrors.SeverityCritical {
		p.logger.Error("分析任务失败", attrs...)
	} else {
		p.logger.Warn("分析任务失败", attrs...)
	}
	return nil
}
