package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meaningfill/class-sub000/internal/observability/metrics"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

const defaultPublishTimeout = 5 * time.Second

// Dispatcher 在独立协程中投递分析任务，调用方无需等待。
type Dispatcher struct {
	producer Producer
	timeout  time.Duration
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewDispatcher 创建 Dispatcher。timeout<=0 时使用默认值。
func NewDispatcher(producer Producer, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Dispatcher{producer: producer, timeout: timeout, logger: logger.Named("analysis")}
}

// Dispatch 异步投递任务。ctx 的取消不会影响投递。
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) {
	if d == nil || d.producer == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		publishCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := d.producer.Publish(publishCtx, job); err != nil {
			metrics.AnalysisJobs.WithLabelValues("dropped").Inc()
			d.logger.Warn("投递分析任务失败",
				slog.String("job_id", job.ID),
				slog.String("session_id", job.SessionID),
				slog.Any("error", err))
		}
	}()
}

// Wait 等待所有在途投递完成。
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
