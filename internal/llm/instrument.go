package llm

import (
	"context"
	"time"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
	"github.com/meaningfill/class-sub000/internal/observability/metrics"
)

// Instrument 为后端调用记录耗时与结果分类。
func Instrument(provider string, next Backend) Backend {
	return BackendFunc(func(ctx context.Context, req Request) (*Result, error) {
		mode := "text"
		if req.JSONMode {
			mode = "json"
		}
		start := time.Now()
		result, err := next.Complete(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = string(xerrors.CodeOf(err))
		}
		metrics.ObserveBackendCall(provider, mode, outcome, time.Since(start))
		return result, err
	})
}
