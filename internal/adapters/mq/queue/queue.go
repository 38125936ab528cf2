// Package queue holds pending run requests between the triggers (scheduler,
// HTTP API) and the runner.
//
// Runs extract everything the source has, so two pending requests from the
// same trigger would do the same work twice. The queue coalesces them.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/starkpi/pkg/metrics"
)

const defaultQueueCapacity = 16

// Request asks for one ETL run.
type Request struct {
	ID         string
	Trigger    string
	EnqueuedAt time.Time
}

// Queue provides non-blocking submit and channel-based dequeue semantics.
type Queue interface {
	// Submit adds r to the queue. coalesced is true when r was merged into a
	// pending request with the same trigger; the returned request is the one
	// that will run.
	Submit(ctx context.Context, r Request) (queued Request, coalesced bool, err error)

	// Dequeue returns a channel that receives requests in submit order. The
	// channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Request

	// Len returns the number of pending requests.
	Len(ctx context.Context) int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests chan Request
	capacity int
	coalesce bool

	mu      sync.Mutex
	pending map[string]Request
	closed  bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		coalesce: true,
		pending:  map[string]Request{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.requests = make(chan Request, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Submit adds a request to the queue.
func (q *InMemoryQueue) Submit(ctx context.Context, r Request) (Request, bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return Request{}, false, ErrClosed
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = time.Now()
	}
	if q.coalesce {
		if p, ok := q.pending[r.Trigger]; ok {
			metrics.RecordQueueCoalesced()
			return p, true, nil
		}
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return Request{}, false, err
	}

	select {
	case q.requests <- r:
		if q.coalesce {
			q.pending[r.Trigger] = r
		}
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.requests))
		return r, false, nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return Request{}, false, ErrFull
	}
}

// Dequeue returns a channel that will receive requests as they become
// available. A request leaves the pending set when it is handed out, so a
// trigger firing while its run is in progress queues a fresh request.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-q.requests:
				if !ok {
					return
				}
				q.mu.Lock()
				if p, ok := q.pending[r.Trigger]; ok && p.ID == r.ID {
					delete(q.pending, r.Trigger)
				}
				q.mu.Unlock()
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueSize(len(q.requests))

				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.requests)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting requests. Requests already queued are still
// delivered to Dequeue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
