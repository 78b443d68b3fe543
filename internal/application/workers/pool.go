package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/ports"
)

// ErrPoolClosed is returned by Execute once the pool is shutting down.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool manages a fixed set of worker goroutines fed from a task queue.
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	tasks chan func()

	mu      sync.RWMutex
	started bool
	closed  bool

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

var _ ports.Executor = (*Pool)(nil)

// NewPool creates a pool of size workers. metrics may be nil.
func NewPool(size int, metrics ports.MetricsCollector, logger *zap.Logger, healthCheckInterval time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		tasks:   make(chan func(), size*4),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range pool.workers {
		pool.workers[i] = &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   pool,
			status: WorkerStatusStopped,
		}
	}
	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)
	return pool
}

// Start starts the workers and the health monitor.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true

	p.logger.Info("starting worker pool", zap.Int("size", p.size))
	for _, w := range p.workers {
		w.setStatus(WorkerStatusIdle)
		p.wg.Add(1)
		go w.run(p.ctx)
	}
	p.health.Start()
	return nil
}

// Execute queues task. It blocks while the queue is full and fails once the
// pool is shut down.
func (p *Pool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting tasks, lets workers drain the queue and waits for
// them until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Health returns the pool's health monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus, len(p.workers))
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop. After cancellation it drains what is left in
// the queue so no accepted task is lost.
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))
	for {
		select {
		case task := <-w.pool.tasks:
			w.execute(task)
		case <-ctx.Done():
			for {
				select {
				case task := <-w.pool.tasks:
					w.execute(task)
				default:
					w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
					return
				}
			}
		}
	}
}

func (w *worker) execute(task func()) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("task panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
		}
		w.setStatus(WorkerStatusIdle)
	}()

	task()
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}
