// Package worker provides a bounded, keyed worker pool. Tasks submitted with
// the same key run one at a time in submission order; tasks with different
// keys may run concurrently on different shards.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("worker: pool closed")

const (
	defaultSize  = 8
	defaultQueue = 256
)

// Task is a unit of work. The context is the pool's, not the submitter's,
// so queued work outlives the request that produced it.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of shards.
type Pool struct {
	shards []chan Task
	ctx    context.Context
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	queued atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used to report task panics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithContext sets the context passed to every task.
func WithContext(ctx context.Context) Option {
	return func(p *Pool) { p.ctx = ctx }
}

// New starts a pool with size shards, each buffering up to queue tasks.
// Non-positive values fall back to 8 shards and 256 queued tasks.
func New(size, queue int, opts ...Option) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	if queue <= 0 {
		queue = defaultQueue
	}
	p := &Pool{
		shards:  make([]chan Task, size),
		ctx:     context.Background(),
		logger:  zap.NewNop(),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := range p.shards {
		ch := make(chan Task, queue)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.run(ch)
	}
	return p
}

func (p *Pool) run(ch chan Task) {
	defer p.wg.Done()

	for task := range ch {
		p.queued.Add(-1)
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task(p.ctx)
}

// Submit queues task on the shard owning key. It blocks while that shard's
// queue is full, until space frees up, ctx is done or the pool closes.
func (p *Pool) Submit(ctx context.Context, key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	ch := p.shards[p.shardOf(key)]
	p.queued.Add(1)
	select {
	case ch <- task:
		return nil
	case <-ctx.Done():
		p.queued.Add(-1)
		return ctx.Err()
	case <-p.closing:
		p.queued.Add(-1)
		return ErrPoolClosed
	}
}

// Queued returns the number of tasks waiting to run.
func (p *Pool) Queued() int64 {
	return p.queued.Load()
}

// Close stops accepting tasks, runs everything already queued and waits for
// the shards to finish. It is safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closing)

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		for _, ch := range p.shards {
			close(ch)
		}
	})
	p.wg.Wait()
}

func (p *Pool) shardOf(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.shards)))
}
