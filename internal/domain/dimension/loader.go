// Package dimension derives the dimension entities of each event and
// resolves them to surrogate keys.
package dimension

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/starkpi/internal/domain/catalog"
	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/registry"
	"github.com/okian/starkpi/pkg/logger"
)

// Loader resolves the tool, time bucket, session and event type of every
// event in a batch.
type Loader struct {
	loc    *time.Location
	logger logger.Logger
}

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithLocation sets the canonical zone time buckets are derived in.
func WithLocation(loc *time.Location) Option {
	return func(l *Loader) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader creates a Loader. The canonical zone defaults to UTC.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{loc: time.UTC, logger: logger.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the canonical zone.
func (l *Loader) Location() *time.Location { return l.loc }

// Load resolves every event's dimensions through store and returns one
// KeySet per event, in batch order. store must be the run's transaction.
func (l *Loader) Load(ctx context.Context, store registry.Store, events []model.Event) ([]model.KeySet, error) {
	reg := registry.New(store,
		registry.WithLogger(l.logger),
		registry.WithMerge(model.EntitySession, MergeSession),
	)

	keys := make([]model.KeySet, len(events))
	for i := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ks, err := l.resolve(ctx, reg, &events[i])
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", events[i].EventID, err)
		}
		keys[i] = ks
	}

	st := reg.Stats()
	l.logger.Debug(ctx, "dimensions resolved",
		logger.Int("events", len(events)),
		logger.Int("created", st.Created),
		logger.Int("updated", st.Updated),
		logger.Int("cache_hits", st.Hits))
	return keys, nil
}

func (l *Loader) resolve(ctx context.Context, reg *registry.Registry, ev *model.Event) (model.KeySet, error) {
	var (
		ks  model.KeySet
		err error
	)

	b := BucketOf(ev.Timestamp, l.loc)
	ks.Date = b.Date
	ks.Hour = b.Hour
	ks.Canonical = b.Canonical

	var toolAttrs model.Attributes
	if ev.ToolName != "" {
		toolAttrs = catalog.ToolAttributes(ev.ToolName, ev.ToolCategory)
	}
	if ks.ToolKey, err = reg.Resolve(ctx, model.EntityTool, ev.ToolName, toolAttrs); err != nil {
		return ks, err
	}
	if ks.TimeKey, err = reg.Resolve(ctx, model.EntityTime, b.NaturalID, b.Attributes()); err != nil {
		return ks, err
	}

	var sessionAttrs model.Attributes
	if ev.SessionID != "" {
		sessionAttrs = SessionAttributes(ev)
	}
	if ks.SessionKey, err = reg.Resolve(ctx, model.EntitySession, ev.SessionID, sessionAttrs); err != nil {
		return ks, err
	}

	var typeAttrs model.Attributes
	if ev.EventType != "" {
		et, _ := catalog.LookupEventType(ev.EventType)
		typeAttrs = et.Attributes()
	}
	if ks.EventTypeKey, err = reg.Resolve(ctx, model.EntityEventType, ev.EventType, typeAttrs); err != nil {
		return ks, err
	}
	return ks, nil
}
