package async

import (
	"context"
	"sync"
)

// WorkerPool bounds how many handlers run at once.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives back a slot taken with Acquire that was not passed to Go.
func (p *WorkerPool) Release() {
	<-p.sem
}

// Go runs fn on a slot already taken with Acquire and frees it when fn returns.
func (p *WorkerPool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Release()
		fn()
	}()
}

// Submit acquires a slot and runs fn on it; it returns false if ctx ended first.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) bool {
	if err := p.Acquire(ctx); err != nil {
		return false
	}
	p.Go(fn)
	return true
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
