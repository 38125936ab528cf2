package worker

import (
	"context"

	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// ResultHandler is called after every run the worker executes.
type ResultHandler func(ctx context.Context, r queue.Request, summary model.RunSummary, err error)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithResultHandler registers fn to observe run outcomes.
func WithResultHandler(fn ResultHandler) Option {
	return func(w *InMemoryWorker) {
		w.onResult = fn
	}
}
