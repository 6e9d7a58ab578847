package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Pool runs jobs with bounded concurrency and at most one job in flight per
// task name. A job waiting for a free worker already holds its task's slot.
type Pool struct {
	logger  *zap.Logger
	workers *pool.Pool
	now     func() time.Time

	mu      sync.Mutex
	running map[string]time.Time
	closed  bool
	wg      sync.WaitGroup

	drainOnce sync.Once
	drained   chan struct{}
}

// NewPool creates a new pool with the given number of workers
func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		logger:  logger.Named("pool"),
		workers: pool.New().WithMaxGoroutines(size),
		now:     time.Now,
		running: make(map[string]time.Time),
		drained: make(chan struct{}),
	}
}

// Submit claims the slot for name and runs job on a worker. It returns
// ErrTaskRunning without queuing if the slot is taken.
func (p *Pool) Submit(name string, job func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if _, busy := p.running[name]; busy {
		p.mu.Unlock()
		return ErrTaskRunning
	}
	p.running[name] = p.now()
	p.wg.Add(1)
	p.mu.Unlock()

	go p.workers.Go(func() {
		defer p.release(name)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Recovered panic from job",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()
		job()
	})
	return nil
}

// RunningSince returns when the in-flight job for name was dispatched
func (p *Pool) RunningSince(name string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	since, ok := p.running[name]
	return since, ok
}

// InFlight returns the task names with a job in flight
func (p *Pool) InFlight() map[string]time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFlight := make(map[string]time.Time, len(p.running))
	for name, since := range p.running {
		inFlight[name] = since
	}
	return inFlight
}

// Wait stops accepting jobs and waits for in-flight jobs to finish. It may be
// called again after ctx expires.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.drainOnce.Do(func() {
		go func() {
			p.wg.Wait()
			p.workers.Wait()
			close(p.drained)
		}()
	})

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release(name string) {
	p.mu.Lock()
	delete(p.running, name)
	p.mu.Unlock()
	p.wg.Done()
}
