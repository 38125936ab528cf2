package queue

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of pending requests.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithCoalescing controls whether a request whose trigger already has a
// pending request is merged into it. It is on by default.
func WithCoalescing(on bool) Option {
	return func(q *InMemoryQueue) {
		q.coalesce = on
	}
}
