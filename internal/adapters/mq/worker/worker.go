// Package worker executes queued run requests one at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
)

// ErrStopped is returned by Shutdown when the worker was never started.
var ErrStopped = errors.New("worker stopped")

// Runner performs one ETL run.
type Runner interface {
	Run(ctx context.Context, trigger string) (model.RunSummary, error)
}

// Queue defines how the worker receives requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Worker consumes run requests.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after the run in progress, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker. Runs never overlap: the next request is
// taken only after the previous run returned.
type InMemoryWorker struct {
	queue    Queue
	runner   Runner
	name     string
	onResult ResultHandler

	startOnce sync.Once
	stopOnce  sync.Once
	started   chan struct{}
	shutdown  chan struct{}
	done      chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		runner:   runner,
		name:     "worker",
		started:  make(chan struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. It blocks.
func (w *InMemoryWorker) Run(ctx context.Context) {
	w.startOnce.Do(func() { close(w.started) })
	defer close(w.done)

	requests := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case r, ok := <-requests:
			if !ok {
				return
			}
			w.process(ctx, r)
		}
	}
}

// Shutdown signals the loop to stop and waits for it to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.started:
	default:
		return ErrStopped
	}
	w.stopOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, r queue.Request) {
	start := time.Now()
	metrics.UpdateWorkerBusy(true)
	defer func() {
		metrics.UpdateWorkerBusy(false)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	w.logger.Info(ctx, "run request picked up",
		logger.String("request_id", r.ID),
		logger.String("trigger", r.Trigger),
		logger.Duration("queued_for", start.Sub(r.EnqueuedAt)),
	)

	summary, err := w.runner.Run(ctx, r.Trigger)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "run_failed")
		w.logger.Error(ctx, "run failed",
			logger.String("request_id", r.ID),
			logger.String("run_id", summary.RunID),
			logger.Error(err),
		)
	}
	if w.onResult != nil {
		w.onResult(ctx, r, summary, err)
	}
}
