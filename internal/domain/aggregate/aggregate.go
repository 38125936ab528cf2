// Package aggregate recomputes daily per-tool KPI rows from stored facts.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Store is the persistence the aggregator needs, bound to the run's
// transaction.
type Store interface {
	// FactsForDay returns every fact dated date for toolKey.
	FactsForDay(ctx context.Context, date string, toolKey int64) ([]model.Fact, error)
	// ReplaceDailyKPI deletes the existing row of (k.Date, k.ToolKey) and
	// inserts k.
	ReplaceDailyKPI(ctx context.Context, k *model.DailyKPI) error
}

// Aggregator recomputes the KPI rows touched by a batch.
type Aggregator struct {
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(a *Aggregator) {
		if lg != nil {
			a.logger = lg
		}
	}
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now, logger: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Recompute replaces the KPI row of every distinct pair and returns how many
// rows were written. Pairs are processed in date, tool order.
func (a *Aggregator) Recompute(ctx context.Context, store Store, pairs []model.DayTool) (int, error) {
	pairs = Distinct(pairs)
	computedAt := a.now().UTC()

	written := 0
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		facts, err := store.FactsForDay(ctx, p.Date, p.ToolKey)
		if err != nil {
			return written, fmt.Errorf("facts for %s/%d: %w", p.Date, p.ToolKey, err)
		}
		k := Compute(p.Date, p.ToolKey, facts)
		k.ComputedAt = computedAt
		if err := store.ReplaceDailyKPI(ctx, &k); err != nil {
			return written, fmt.Errorf("replace kpi %s: %w", k.KPIKey, err)
		}
		written++
	}

	a.logger.Debug(ctx, "daily kpis recomputed", logger.Int("rows", written))
	return written, nil
}

// PairsOf returns the (date, tool) pairs of a batch's key sets.
func PairsOf(keys []model.KeySet) []model.DayTool {
	pairs := make([]model.DayTool, 0, len(keys))
	for _, ks := range keys {
		pairs = append(pairs, model.DayTool{Date: ks.Date, ToolKey: ks.ToolKey})
	}
	return Distinct(pairs)
}

// Distinct removes repeated pairs and sorts the rest.
func Distinct(pairs []model.DayTool) []model.DayTool {
	seen := make(map[model.DayTool]struct{}, len(pairs))
	out := make([]model.DayTool, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ToolKey < out[j].ToolKey
	})
	return out
}
