package biz

import (
	"context"
	"sync"

	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/metrics"

	klog "github.com/go-kratos/kratos/v2/log"
)

const (
	defaultRefreshWorkers   = 4
	defaultRefreshQueueSize = 256
)

// RefreshHandler 处理单个用户的刷新任务
type RefreshHandler func(ctx context.Context, userID int64)

// RefreshQueue 有界刷新任务队列
// Enqueue 永不阻塞：队列满时丢弃；同一用户在队列中只保留一个任务
type RefreshQueue struct {
	tasks   chan int64
	workers int

	mu      sync.Mutex
	pending map[int64]struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics metrics.Recorder
	logger  *log.LogHelper
}

// NewRefreshQueue creates a queue with the given capacity and worker count.
func NewRefreshQueue(size, workers int, m metrics.Recorder, logger klog.Logger) *RefreshQueue {
	if size < 1 {
		size = defaultRefreshQueueSize
	}
	if workers < 1 {
		workers = defaultRefreshWorkers
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &RefreshQueue{
		tasks:   make(chan int64, size),
		workers: workers,
		pending: make(map[int64]struct{}),
		metrics: m,
		logger:  log.NewLogHelper(logger),
	}
}

// Enqueue 加入刷新任务，返回是否已排队（包括已在队列中）
func (q *RefreshQueue) Enqueue(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[userID]; ok {
		return true
	}

	select {
	case q.tasks <- userID:
		q.pending[userID] = struct{}{}
		return true
	default:
		q.metrics.RefreshDropped()
		q.logger.Warnw("msg", "refresh queue full, dropping task", "user_id", userID, "capacity", cap(q.tasks))
		return false
	}
}

// Pending 当前排队中的任务数
func (q *RefreshQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start 启动 worker，重复调用无效
func (q *RefreshQueue) Start(ctx context.Context, handler RefreshHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handler)
	}
	q.logger.Scheduler("refresh queue started", "workers", q.workers, "capacity", cap(q.tasks))
}

func (q *RefreshQueue) work(ctx context.Context, handler RefreshHandler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-q.tasks:
			q.mu.Lock()
			delete(q.pending, userID)
			q.mu.Unlock()

			q.run(ctx, handler, userID)
		}
	}
}

func (q *RefreshQueue) run(ctx context.Context, handler RefreshHandler, userID int64) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("msg", "refresh task panicked", "user_id", userID, "panic", r)
		}
	}()
	handler(ctx, userID)
}

// Stop 停止 worker 并等待正在执行的任务结束，未执行的任务被丢弃
func (q *RefreshQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Scheduler("refresh queue stopped", "dropped", q.Pending())
}
