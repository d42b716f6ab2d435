package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sfugate/internal/core/ports"

	"go.uber.org/zap"
)

// WorkerPool owns the fixed set of media engine workers and hands them out round-robin.
type WorkerPool struct {
	workers []ports.Worker
	cursor  atomic.Uint64
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	closeOnce sync.Once
	stop      chan struct{}
}

// NewWorkerPool starts n workers. Workers already started are closed if a later one fails.
func NewWorkerPool(ctx context.Context, engine ports.MediaEngine, n int, settings ports.WorkerSettings, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) (*WorkerPool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("worker pool size must be > 0, got %d", n)
	}

	workers := make([]ports.Worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := engine.CreateWorker(ctx, settings)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, fmt.Errorf("failed to create media worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	return NewWorkerPoolFrom(workers, metrics, logger), nil
}

// NewWorkerPoolFrom wraps already running workers.
func NewWorkerPoolFrom(workers []ports.Worker, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *WorkerPool {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WorkerPool{
		workers: workers,
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Assign runs fn with the next worker; the i-th successful call gets worker i mod size.
// When fn fails the cursor is moved back, unless another caller has taken the
// following slot meanwhile.
func (p *WorkerPool) Assign(fn func(ports.Worker) error) error {
	i := p.cursor.Add(1) - 1
	if err := fn(p.workers[i%uint64(len(p.workers))]); err != nil {
		p.cursor.CompareAndSwap(i+1, i)
		return err
	}
	return nil
}

func (p *WorkerPool) Size() int { return len(p.workers) }

func (p *WorkerPool) Workers() []ports.Worker {
	out := make([]ports.Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Watch calls onDeath once for the first worker that dies. It returns immediately.
func (p *WorkerPool) Watch(onDeath func(ports.Worker)) {
	var once sync.Once
	for _, w := range p.workers {
		go func(w ports.Worker) {
			select {
			case <-w.Died():
				p.metrics.WorkerDied(w.PID())
				p.logger.Errorw("media worker died",
					"worker_pid", w.PID(),
					"error", w.DeathReason(),
				)
				once.Do(func() { onDeath(w) })
			case <-p.stop:
			}
		}(w)
	}
}

// Close stops watching and closes every worker.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		for _, w := range p.workers {
			if err := w.Close(); err != nil {
				p.logger.Warnw("error closing media worker", "worker_pid", w.PID(), "error", err)
			}
		}
	})
}

// FatalOnDeath returns a death handler that terminates the process after grace,
// leaving time for in-flight responses to flush. The engine state is not trusted
// after a worker exit, so there is no recovery path.
func FatalOnDeath(grace time.Duration, exit func(code int), logger *zap.SugaredLogger) func(ports.Worker) {
	return func(w ports.Worker) {
		logger.Errorw("media worker died, exiting",
			"worker_pid", w.PID(),
			"grace_period", grace,
		)
		time.AfterFunc(grace, func() { exit(1) })
	}
}
