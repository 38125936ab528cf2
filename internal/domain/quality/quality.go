// Package quality runs advisory checks over a committed run. Findings are
// reported, never enforced.
package quality

import (
	"context"
	"fmt"
	"time"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// Store is the read-only view of the warehouse the gate inspects.
type Store interface {
	// CountFacts counts facts dated within w.
	CountFacts(ctx context.Context, w model.Window) (int64, error)
	// OrphanedKeys reports foreign-key columns with values missing from
	// their dimension table.
	OrphanedKeys(ctx context.Context) ([]model.Orphan, error)
	KPIs(ctx context.Context, f model.KPIFilter) ([]model.KPIView, error)
	// FutureFacts counts facts dated within w whose timestamp is after t.
	FutureFacts(ctx context.Context, w model.Window, after time.Time) (int64, error)
}

// Request describes what to check.
type Request struct {
	Window model.Window
	// Expected is the upstream row count hint, if the source supplied one.
	Expected *int64
	// RunStart anchors the future-dated check.
	RunStart time.Time
}

// Gate runs the quality checks.
type Gate struct {
	store     Store
	tolerance int64
	skew      time.Duration
	logger    logger.Logger
}

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithDownloadsTolerance allows downloads to exceed uploads by n per KPI row
// before the funnel check fires.
func WithDownloadsTolerance(n int64) Option {
	return func(g *Gate) {
		if n >= 0 {
			g.tolerance = n
		}
	}
}

// WithFutureSkew sets how far past the run start a fact may be dated.
func WithFutureSkew(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.skew = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(g *Gate) {
		if lg != nil {
			g.logger = lg
		}
	}
}

// New creates a Gate over store.
func New(store Store, opts ...Option) *Gate {
	g := &Gate{store: store, skew: 5 * time.Minute, logger: logger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs every check and returns the report. An error means a check
// could not be evaluated, not that it failed.
func (g *Gate) Check(ctx context.Context, req Request) (model.QualityReport, error) {
	report := model.QualityReport{Window: req.Window, Deviations: []model.Deviation{}}

	checks := []func(context.Context, Request) ([]model.Deviation, error){
		g.dateRange,
		g.rowCount,
		g.referentialIntegrity,
		g.funnel,
		g.futureDated,
	}
	for _, check := range checks {
		devs, err := check(ctx, req)
		if err != nil {
			return report, err
		}
		report.Deviations = append(report.Deviations, devs...)
	}

	report.Verdict = model.VerdictClean
	if len(report.Deviations) > 0 {
		report.Verdict = model.VerdictDegraded
		for _, d := range report.Deviations {
			g.logger.Warn(ctx, "quality deviation",
				logger.String("check", d.Check),
				logger.String("subject", d.Subject),
				logger.Int64("expected", d.Expected),
				logger.Int64("actual", d.Actual))
		}
	}
	return report, nil
}

func (g *Gate) dateRange(_ context.Context, req Request) ([]model.Deviation, error) {
	w := req.Window
	if w.Empty() || w.From <= w.To {
		return nil, nil
	}
	return []model.Deviation{{
		Check:   model.CheckDateRange,
		Subject: "window",
		Message: fmt.Sprintf("window starts %s after it ends %s", w.From, w.To),
	}}, nil
}

func (g *Gate) rowCount(ctx context.Context, req Request) ([]model.Deviation, error) {
	if req.Expected == nil || req.Window.Empty() {
		return nil, nil
	}
	n, err := g.store.CountFacts(ctx, req.Window)
	if err != nil {
		return nil, fmt.Errorf("row count: %w", err)
	}
	if n == *req.Expected {
		return nil, nil
	}
	dir := "fewer"
	if n > *req.Expected {
		dir = "more"
	}
	return []model.Deviation{{
		Check:    model.CheckRowCount,
		Subject:  "fact_analytics",
		Expected: *req.Expected,
		Actual:   n,
		Message:  fmt.Sprintf("%s fact rows than the source reported", dir),
	}}, nil
}

func (g *Gate) referentialIntegrity(ctx context.Context, _ Request) ([]model.Deviation, error) {
	orphans, err := g.store.OrphanedKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("referential integrity: %w", err)
	}
	var devs []model.Deviation
	for _, o := range orphans {
		if o.Count == 0 {
			continue
		}
		devs = append(devs, model.Deviation{
			Check:   model.CheckReferentialIntegrity,
			Subject: o.Table + "." + o.Column,
			Actual:  o.Count,
			Message: fmt.Sprintf("%d rows reference a missing dimension row", o.Count),
		})
	}
	return devs, nil
}

func (g *Gate) funnel(ctx context.Context, req Request) ([]model.Deviation, error) {
	if req.Window.Empty() {
		return nil, nil
	}
	rows, err := g.store.KPIs(ctx, model.KPIFilter{From: req.Window.From, To: req.Window.To})
	if err != nil {
		return nil, fmt.Errorf("funnel invariant: %w", err)
	}
	var devs []model.Deviation
	for _, k := range rows {
		if k.TotalDownloads <= k.TotalUploads+g.tolerance {
			continue
		}
		devs = append(devs, model.Deviation{
			Check:    model.CheckFunnelInvariant,
			Subject:  k.Date + "/" + k.ToolName,
			Expected: k.TotalUploads + g.tolerance,
			Actual:   k.TotalDownloads,
			Message:  "downloads exceed uploads",
		})
	}
	return devs, nil
}

func (g *Gate) futureDated(ctx context.Context, req Request) ([]model.Deviation, error) {
	if req.Window.Empty() || req.RunStart.IsZero() {
		return nil, nil
	}
	limit := req.RunStart.Add(g.skew)
	n, err := g.store.FutureFacts(ctx, req.Window, limit)
	if err != nil {
		return nil, fmt.Errorf("future dated: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return []model.Deviation{{
		Check:   model.CheckFutureDated,
		Subject: "fact_analytics",
		Actual:  n,
		Message: fmt.Sprintf("%d facts dated after %s", n, limit.UTC().Format(time.RFC3339)),
	}}, nil
}
