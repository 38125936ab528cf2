// Package registry assigns stable surrogate keys to dimension entities.
//
// A Registry is bound to one store transaction. Keys come from persisted
// per-entity sequences, so resolution depends only on persisted state; the
// in-memory cache is a read-through view of what the transaction has seen.
package registry

import (
	"context"
	"fmt"
	"strings"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Store is the persistence the registry needs. Implementations must run all
// calls inside the same transaction.
type Store interface {
	// LookupDimension returns the key and attributes stored for naturalID.
	// found is false when no row exists.
	LookupDimension(ctx context.Context, entity model.Entity, naturalID string) (key int64, attrs model.Attributes, found bool, err error)
	// NextSurrogateKey advances and returns the entity's sequence.
	NextSurrogateKey(ctx context.Context, entity model.Entity) (int64, error)
	InsertDimension(ctx context.Context, entity model.Entity, key int64, naturalID string, attrs model.Attributes) error
	UpdateDimension(ctx context.Context, entity model.Entity, key int64, attrs model.Attributes) error
}

// MergeFunc combines stored and incoming attributes. The result is what gets
// persisted.
type MergeFunc func(stored, incoming model.Attributes) model.Attributes

type entry struct {
	key   int64
	attrs model.Attributes
}

// Stats counts what the registry did during its lifetime.
type Stats struct {
	Hits    int
	Lookups int
	Created int
	Updated int
}

// Registry resolves natural identifiers to surrogate keys.
type Registry struct {
	store  Store
	cache  map[model.Entity]map[string]entry
	merge  map[model.Entity]MergeFunc
	stats  Stats
	logger logger.Logger
}

// New creates a Registry over store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		cache:  make(map[model.Entity]map[string]entry, len(model.Entities)),
		merge:  make(map[model.Entity]MergeFunc),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the surrogate key of naturalID, creating the dimension row
// with attrs on first encounter. On re-encounter attrs overwrite the stored
// attributes (after the entity's MergeFunc, if any). An empty naturalID maps
// to model.UnknownKey.
func (r *Registry) Resolve(ctx context.Context, entity model.Entity, naturalID string, attrs model.Attributes) (int64, error) {
	naturalID = strings.TrimSpace(naturalID)
	if naturalID == "" || naturalID == model.UnknownNaturalID {
		return model.UnknownKey, nil
	}

	byID := r.cache[entity]
	if byID == nil {
		byID = make(map[string]entry)
		r.cache[entity] = byID
	}

	if e, ok := byID[naturalID]; ok {
		r.stats.Hits++
		return r.refresh(ctx, entity, naturalID, e, attrs)
	}

	r.stats.Lookups++
	key, stored, found, err := r.store.LookupDimension(ctx, entity, naturalID)
	if err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", entity, naturalID, err)
	}
	if found {
		return r.refresh(ctx, entity, naturalID, entry{key: key, attrs: stored}, attrs)
	}

	key, err = r.store.NextSurrogateKey(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("allocate %s key: %w", entity, err)
	}
	if key <= model.UnknownKey {
		return 0, fmt.Errorf("allocate %s key: sequence returned %d", entity, key)
	}
	attrs = r.mergeAttrs(entity, nil, attrs)
	if err := r.store.InsertDimension(ctx, entity, key, naturalID, attrs); err != nil {
		return 0, fmt.Errorf("insert %s %q: %w", entity, naturalID, err)
	}
	byID[naturalID] = entry{key: key, attrs: attrs}
	r.stats.Created++
	r.logger.Debug(ctx, "dimension created",
		logger.String("entity", string(entity)),
		logger.String("natural_id", naturalID),
		logger.Int64("key", key))
	return key, nil
}

// refresh writes attrs over e when they differ and caches the result.
func (r *Registry) refresh(ctx context.Context, entity model.Entity, naturalID string, e entry, attrs model.Attributes) (int64, error) {
	if attrs != nil {
		merged := r.mergeAttrs(entity, e.attrs, attrs)
		if !merged.Equal(e.attrs) {
			if err := r.store.UpdateDimension(ctx, entity, e.key, merged); err != nil {
				return 0, fmt.Errorf("update %s %q: %w", entity, naturalID, err)
			}
			e.attrs = merged
			r.stats.Updated++
		}
	}
	r.cache[entity][naturalID] = e
	return e.key, nil
}

func (r *Registry) mergeAttrs(entity model.Entity, stored, incoming model.Attributes) model.Attributes {
	fn, ok := r.merge[entity]
	if !ok {
		return incoming
	}
	return fn(stored, incoming)
}

// Stats returns the counters accumulated so far.
func (r *Registry) Stats() Stats { return r.stats }
