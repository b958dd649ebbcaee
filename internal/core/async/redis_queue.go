package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// RedisQueue is the durable MonitorTask queue.
//
// Layout under the queue name:
//
//	<name>:ready       list, LPUSH by producers, consumed from the right
//	<name>:processing  list, deliveries currently held by a worker
//	<name>:delayed     sorted set of failed deliveries scored by their due time (unix ms)
//	<name>:dead        list of deliveries that exhausted their retries
//
// A delivery stays in processing until its handler returns, so a crash leaves it there
// and Start moves it back to ready. Only one consumer process should run per queue name.
type RedisQueue struct {
	client *redis.Client
	name   string
	logger *slog.Logger
	opts   options
	now    func() time.Time

	pool   *WorkerPool
	loops  sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func NewRedisQueue(client *redis.Client, name string, logger *slog.Logger, opts ...Option) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &RedisQueue{
		client: client,
		name:   name,
		logger: logger.With("queue", name),
		opts:   o,
		now:    time.Now,
		pool:   NewWorkerPool(o.workers),
	}
}

func (q *RedisQueue) readyKey() string      { return q.name + ":ready" }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) delayedKey() string    { return q.name + ":delayed" }
func (q *RedisQueue) deadKey() string       { return q.name + ":dead" }

func (q *RedisQueue) Enqueue(ctx context.Context, task entity.MonitorTask) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "task_id", task.TaskID)
		return ErrQueueClosed
	}
	data, err := json.Marshal(newEnvelope(task))
	if err != nil {
		return fmt.Errorf("encode monitor task: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), data).Err(); err != nil {
		q.logger.Error("failed to enqueue monitor task", "task_id", task.TaskID, "error", err)
		return fmt.Errorf("enqueue monitor task: %w", err)
	}
	q.logger.Info("queued monitor task", "task_id", task.TaskID, "jobs", len(task.Jobs))
	return nil
}

// Start reclaims deliveries orphaned by a previous run and begins consuming with handler.
func (q *RedisQueue) Start(ctx context.Context, handler Handler) error {
	n, err := q.reclaim(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Warn("reclaimed in-flight deliveries from previous run", "count", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.loops.Add(2)
	go func() {
		defer q.loops.Done()
		q.consume(ctx, handler)
	}()
	go func() {
		defer q.loops.Done()
		q.promoteLoop(ctx)
	}()
	q.logger.Info("queue consumer started", "workers", q.opts.workers)
	return nil
}

func (q *RedisQueue) reclaim(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey(), q.readyKey()).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reclaim processing list: %w", err)
		}
		n++
	}
}

func (q *RedisQueue) consume(ctx context.Context, handler Handler) {
	for {
		if err := q.pool.Acquire(ctx); err != nil {
			return
		}
		raw, err := q.client.BRPopLPush(ctx, q.readyKey(), q.processingKey(), q.opts.blockTimeout).Result()
		if err != nil {
			q.pool.Release()
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				q.logger.Error("queue read failed", "error", err)
				sleepOrDone(ctx, q.opts.blockTimeout)
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			q.pool.Release()
			q.logger.Error("undecodable delivery moved to dead letters", "error", err)
			q.bury(ctx, raw, raw)
			continue
		}
		q.pool.Go(func() { q.handle(ctx, handler, raw, env) })
	}
}

func (q *RedisQueue) handle(ctx context.Context, handler Handler, raw string, env envelope) {
	log := q.logger.With("task_id", env.Task.TaskID, "attempt", env.Attempt)
	err := runHandler(ctx, handler, env, q.opts.timeout, q.logger)

	// Acks run on a fresh context so a delivery finished during shutdown is still settled.
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err == nil {
		if err := q.client.LRem(ackCtx, q.processingKey(), 1, raw).Err(); err != nil {
			log.Error("failed to ack delivery", "error", err)
			return
		}
		log.Info("task processed")
		return
	}
	if ctx.Err() != nil {
		// Left in processing; the next Start moves it back to ready.
		log.Warn("task interrupted by shutdown", "error", err)
		return
	}
	if q.opts.retry.Exhausted(env.Attempt) {
		log.Error("task failed permanently; dead-lettered", "error", err)
		q.bury(ackCtx, raw, raw)
		return
	}

	delay := q.opts.retry.Delay(env.Attempt)
	env.Attempt++
	next, mErr := json.Marshal(env)
	if mErr != nil {
		log.Error("failed to encode redelivery", "error", mErr)
		return
	}
	due := q.now().Add(delay).UnixMilli()
	_, txErr := q.client.TxPipelined(ackCtx, func(p redis.Pipeliner) error {
		p.ZAdd(ackCtx, q.delayedKey(), redis.Z{Score: float64(due), Member: string(next)})
		p.LRem(ackCtx, q.processingKey(), 1, raw)
		return nil
	})
	if txErr != nil {
		log.Error("failed to schedule redelivery", "error", txErr)
		return
	}
	log.Warn("task failed; scheduling redelivery", "delay", delay, "error", err)
}

// bury moves raw from processing to the dead-letter list as payload.
func (q *RedisQueue) bury(ctx context.Context, raw, payload string) {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.deadKey(), payload)
		p.LRem(ctx, q.processingKey(), 1, raw)
		return nil
	})
	if err != nil {
		q.logger.Error("failed to dead-letter delivery", "error", err)
	}
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	t := time.NewTicker(q.opts.promoteTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("failed to promote delayed deliveries", "error", err)
			}
		}
	}
}

// promoteScript moves due members from the delayed zset to the ready list in one step.
// KEYS[1] delayed, KEYS[2] ready; ARGV[1] max score, ARGV[2] batch size.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// promoteDue moves delayed deliveries whose due time has passed back to ready.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	return promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.readyKey()},
		q.now().UnixMilli(), 100,
	).Int()
}

// DeadLetters returns up to limit dead-lettered tasks, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]entity.MonitorTask, error) {
	raws, err := q.client.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]entity.MonitorTask, 0, len(raws))
	for _, raw := range raws {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, env.Task)
	}
	return out, nil
}

// Shutdown stops consuming and waits for in-flight handlers or ctx, whichever comes first.
func (q *RedisQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.loops.Wait()
		q.pool.Wait()
	}()
	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue consumer stopped")
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
