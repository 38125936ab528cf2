package registry

import (
	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMerge installs a MergeFunc for entity. Entities without one use plain
// last-write-wins.
func WithMerge(entity model.Entity, fn MergeFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.merge[entity] = fn
		}
	}
}
