package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// MemoryQueue is an in-process queue for local runs and tests. Deliveries do not survive a restart.
type MemoryQueue struct {
	handler Handler
	logger  *slog.Logger
	opts    options

	ch   chan envelope
	wg   sync.WaitGroup
	once sync.Once

	// closeMu is held shared by senders and exclusively by Shutdown when closing ch.
	closeMu sync.RWMutex
	closed  atomic.Bool

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	dead   []entity.MonitorTask

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewMemoryQueue(handler Handler, logger *slog.Logger, opts ...Option) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		handler: handler,
		logger:  logger,
		opts:    o,
		ch:      make(chan envelope, o.queueSize),
		timers:  make(map[*time.Timer]struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
	q.start()
	return q
}

func (q *MemoryQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.opts.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for env := range q.ch {
					q.process(workerID, env)
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *MemoryQueue) process(workerID int, env envelope) {
	err := runHandler(q.baseCtx, q.handler, env, q.opts.timeout, q.logger)
	if err == nil {
		q.logger.Info("task processed", "worker_id", workerID, "task_id", env.Task.TaskID, "attempt", env.Attempt)
		return
	}
	if q.baseCtx.Err() != nil {
		q.logger.Warn("task interrupted by shutdown", "task_id", env.Task.TaskID, "error", err)
		return
	}
	if q.opts.retry.Exhausted(env.Attempt) {
		q.logger.Error("task failed permanently; dead-lettered",
			"worker_id", workerID, "task_id", env.Task.TaskID, "attempt", env.Attempt, "error", err)
		q.mu.Lock()
		q.dead = append(q.dead, env.Task)
		q.mu.Unlock()
		return
	}
	delay := q.opts.retry.Delay(env.Attempt)
	q.logger.Warn("task failed; scheduling redelivery",
		"worker_id", workerID, "task_id", env.Task.TaskID, "attempt", env.Attempt, "delay", delay, "error", err)
	env.Attempt++
	q.schedule(env, delay)
}

func (q *MemoryQueue) schedule(env envelope, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.push(env)
	})
	q.timers[t] = struct{}{}
}

// push sends env unless the queue is closed. It reports whether env was accepted.
func (q *MemoryQueue) push(env envelope) bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed.Load() {
		return false
	}
	select {
	case q.ch <- env:
	default:
		q.logger.Warn("queue full, applying backpressure", "task_id", env.Task.TaskID)
		q.ch <- env
	}
	return true
}

func (q *MemoryQueue) Enqueue(_ context.Context, task entity.MonitorTask) error {
	if !q.push(newEnvelope(task)) {
		q.logger.Warn("cannot enqueue: queue is shutting down", "task_id", task.TaskID)
		return ErrQueueClosed
	}
	q.logger.Info("queued monitor task", "task_id", task.TaskID, "jobs", len(task.Jobs))
	return nil
}

// DeadLetters returns the tasks that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []entity.MonitorTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]entity.MonitorTask, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Shutdown(ctx context.Context) {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	if n := len(q.timers); n > 0 {
		q.logger.Warn("dropping scheduled redeliveries", "count", n)
	}
	q.mu.Unlock()

	q.closeMu.Lock()
	close(q.ch)
	q.closeMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
	}
}
