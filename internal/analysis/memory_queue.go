package analysis

import (
	"context"
	"sync"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// ErrQueueFull 表示内存队列已满，任务被丢弃。
var ErrQueueFull = xerrors.New(xerrors.CodeQueueFailure, "分析队列已满")

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "分析队列已关闭")

// MemoryQueue 使用 channel 在进程内传递任务。投递不阻塞，队列满时直接丢弃。
type MemoryQueue struct {
	ch     chan Job
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

// Publish 将任务放入队列。
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len 返回排队中的任务数。
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume 启动指定数量的工作协程，直到 ctx 取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列，已排队的任务仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
