// Package fact turns resolved events into fact_analytics rows.
package fact

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/starkpi/internal/domain/catalog"
	"github.com/okian/starkpi/internal/domain/dedupe"
	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// ErrKeyMismatch is returned when events and key sets are not aligned.
var ErrKeyMismatch = errors.New("events and key sets differ in length")

// Store is the persistence the fact loader needs, bound to the run's
// transaction.
type Store interface {
	// ExistingEventIDs returns the subset of ids already stored.
	ExistingEventIDs(ctx context.Context, ids []string) ([]string, error)
	// InsertFact stores f unless its event id exists. inserted is false on
	// conflict.
	InsertFact(ctx context.Context, f *model.Fact) (inserted bool, err error)
}

// Loader writes one fact per new event.
type Loader struct {
	logger logger.Logger
}

// Option applies a configuration option to the Loader.
type Option func(*Loader)

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader creates a fact Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{logger: logger.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load inserts a fact for every event whose id is neither stored nor
// repeated earlier in the batch. keys[i] must belong to events[i].
func (l *Loader) Load(ctx context.Context, store Store, events []model.Event, keys []model.KeySet) (model.FactCounts, error) {
	var counts model.FactCounts
	if len(events) != len(keys) {
		return counts, fmt.Errorf("%w: %d events, %d key sets", ErrKeyMismatch, len(events), len(keys))
	}
	if len(events) == 0 {
		return counts, nil
	}

	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].EventID
	}
	existing, err := store.ExistingEventIDs(ctx, ids)
	if err != nil {
		return counts, fmt.Errorf("lookup existing facts: %w", err)
	}

	seen := dedupe.NewInMemoryDeduper(dedupe.WithCapacity(len(events) + len(existing)))
	seen.Seed(ctx, existing...)

	for i := range events {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		ev := &events[i]
		if seen.SeenAndRecord(ctx, ev.EventID) {
			counts.Duplicate++
			continue
		}

		f := Build(ev, keys[i])
		inserted, err := store.InsertFact(ctx, &f)
		if err != nil {
			seen.Unrecord(ctx, ev.EventID)
			return counts, fmt.Errorf("insert fact %s: %w", ev.EventID, err)
		}
		if !inserted {
			counts.Duplicate++
			continue
		}
		counts.Accepted++
		if f.Class == model.ClassOther {
			counts.UnknownEventType++
			l.logger.Debug(ctx, "unknown event type stored without flags",
				logger.String("event_id", ev.EventID),
				logger.String("event_type", ev.EventType))
		}
	}

	l.logger.Debug(ctx, "facts loaded",
		logger.Int("accepted", counts.Accepted),
		logger.Int("duplicate", counts.Duplicate),
		logger.Int("unknown_event_type", counts.UnknownEventType))
	return counts, nil
}

// Build maps an event and its keys to a fact row.
func Build(ev *model.Event, ks model.KeySet) model.Fact {
	class, flags, _ := catalog.Classify(ev.EventType)
	f := model.Fact{
		EventID:        ev.EventID,
		ToolKey:        ks.ToolKey,
		TimeKey:        ks.TimeKey,
		SessionKey:     ks.SessionKey,
		EventTypeKey:   ks.EventTypeKey,
		EventDate:      ks.Date,
		EventTS:        ev.Timestamp.UTC(),
		Class:          class,
		UploadFlag:     flags.Upload,
		ProcessingFlag: flags.Processing,
		DownloadFlag:   flags.Download,
		ErrorFlag:      flags.Error,
		UserID:         ev.UserID,
		URL:            ev.URL,
	}
	if v, ok := ev.IntProp("file_size"); ok && v >= 0 {
		f.FileSizeBytes = &v
	}
	if v, ok := ev.IntProp("processing_time_ms"); ok && v >= 0 {
		f.ProcessingTimeMs = &v
	}
	return f
}
