package dedupe

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithCapacity presizes the seen set, usually to the batch size plus the
// number of seeded ids. Non-positive values leave the default.
func WithCapacity(n int) Option {
	return func(d *inMemoryDeduper) {
		d.capacity = n
	}
}
