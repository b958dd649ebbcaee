package async

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/archive-transcriber/internal/entity"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Handler processes one delivery. A nil return acknowledges the task; an error
// schedules a redelivery until the retry policy is exhausted.
type Handler func(ctx context.Context, task entity.MonitorTask) error

// Queue is an at-least-once MonitorTask queue.
type Queue interface {
	Enqueue(ctx context.Context, task entity.MonitorTask) error
	Shutdown(ctx context.Context)
}

// RetryPolicy controls redelivery: attempt n (1-based) that fails is retried after
// Backoff·2^(n-1), until MaxAttempts deliveries have been made.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is 5 deliveries with backoff starting at 10s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 10 * time.Second}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Backoff << (attempt - 1)
}

// Exhausted reports whether a failed delivery number attempt was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// envelope is what actually travels through a queue.
type envelope struct {
	ID      string             `json:"id"`
	Attempt int                `json:"attempt"`
	Task    entity.MonitorTask `json:"task"`
}

func newEnvelope(task entity.MonitorTask) envelope {
	return envelope{ID: uuid.NewString(), Attempt: 1, Task: task}
}

// options shared by the queue implementations.
type options struct {
	workers      int
	queueSize    int
	timeout      time.Duration
	retry        RetryPolicy
	blockTimeout time.Duration
	promoteTick  time.Duration
}

type Option func(*options)

func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithProcessTimeout bounds one handler call; zero leaves it unbounded.
func WithProcessTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		if p.MaxAttempts > 0 {
			o.retry.MaxAttempts = p.MaxAttempts
		}
		if p.Backoff > 0 {
			o.retry.Backoff = p.Backoff
		}
	}
}

// WithPollTimings sets how long the Redis consumer blocks on an empty queue and how often
// delayed retries are promoted.
func WithPollTimings(block, promote time.Duration) Option {
	return func(o *options) {
		if block > 0 {
			o.blockTimeout = block
		}
		if promote > 0 {
			o.promoteTick = promote
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		workers:      50,
		queueSize:    256,
		retry:        DefaultRetryPolicy,
		blockTimeout: time.Second,
		promoteTick:  time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// runHandler calls h with the optional timeout and recovers panics into errors.
func runHandler(ctx context.Context, h Handler, env envelope, timeout time.Duration, logger *slog.Logger) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "task_id", env.Task.TaskID, "panic", r)
			err = errors.New("handler panicked")
		}
	}()
	return h(ctx, env.Task)
}
