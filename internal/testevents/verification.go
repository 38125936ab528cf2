package testevents

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/starkpi/internal/adapters/repository"
	service "github.com/okian/starkpi/internal/app"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/pkg/logger"
)

// verifyResults checks idempotence, the KPI counts against what was
// generated, the KPI table against a recount of the facts, and the
// quality verdict.
func verifyResults(ctx context.Context, svc *service.Service, store *repository.Store, batch *Batch,
	first, second *model.RunSummary, stats *Stats,
) error {
	logger.Get().Info(ctx, "verifying results")

	n := len(batch.Records)
	if first.Accepted != n || first.Duplicate != 0 {
		return fmt.Errorf("first load accepted %d and skipped %d of %d records", first.Accepted, first.Duplicate, n)
	}
	if second.Accepted != 0 || second.Duplicate != n {
		return fmt.Errorf("second load accepted %d and skipped %d of %d records", second.Accepted, second.Duplicate, n)
	}
	logger.Get().Info(ctx, "idempotence verified")

	kpis, err := svc.KPIs(ctx, model.KPIFilter{})
	if err != nil {
		return fmt.Errorf("read kpis: %w", err)
	}
	stats.KPIRows = len(kpis)

	var errs []error
	if err := verifyExpected(kpis, batch.Expected); err != nil {
		errs = append(errs, err)
	}
	if err := verifyRecount(ctx, store, kpis); err != nil {
		errs = append(errs, err)
	}
	if first.Quality == nil {
		errs = append(errs, errors.New("first load has no quality report"))
	} else if first.Quality.Verdict != model.VerdictClean {
		errs = append(errs, fmt.Errorf("quality verdict %s with %d deviations",
			first.Quality.Verdict, len(first.Quality.Deviations)))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Get().Info(ctx, "result verification completed", logger.Int("kpiRows", len(kpis)))
	return nil
}

// verifyExpected compares every KPI row with the generator's own counts.
func verifyExpected(kpis []model.KPIView, expected map[key]*Funnel) error {
	if len(kpis) != len(expected) {
		return fmt.Errorf("%d KPI rows for %d generated (date, tool) pairs", len(kpis), len(expected))
	}
	var errs []error
	for _, k := range kpis {
		want, ok := expected[key{Date: k.Date, Tool: k.ToolName}]
		if !ok {
			errs = append(errs, fmt.Errorf("unexpected KPI row %s/%s", k.Date, k.ToolName))
			continue
		}
		got := Funnel{
			Events:     k.TotalEvents,
			PageViews:  k.PageViews,
			Uploads:    k.TotalUploads,
			Processing: k.TotalProcessing,
			Downloads:  k.TotalDownloads,
			Sessions:   k.UniqueSessions,
		}
		if got != *want {
			errs = append(errs, fmt.Errorf("%s/%s: got %+v, want %+v", k.Date, k.ToolName, got, *want))
		}
		if k.ConversionRate != nil && (*k.ConversionRate < 0 || *k.ConversionRate > PercentageMultiplier) {
			errs = append(errs, fmt.Errorf("%s/%s: conversion rate %.1f out of range", k.Date, k.ToolName, *k.ConversionRate))
		}
	}
	return errors.Join(errs...)
}

// verifyRecount compares the KPI table with an aggregate over the facts.
func verifyRecount(ctx context.Context, store *repository.Store, kpis []model.KPIView) error {
	counts, err := store.RecountFunnels(ctx)
	if err != nil {
		return err
	}
	byPair := make(map[model.DayTool]repository.FunnelCount, len(counts))
	for _, c := range counts {
		byPair[model.DayTool{Date: c.Date, ToolKey: c.ToolKey}] = c
	}
	if len(byPair) != len(kpis) {
		return fmt.Errorf("recount has %d pairs, KPI table has %d", len(byPair), len(kpis))
	}
	var errs []error
	for _, k := range kpis {
		c, ok := byPair[model.DayTool{Date: k.Date, ToolKey: k.ToolKey}]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s/%s missing from recount", k.Date, k.ToolName))
		case c.Events != k.TotalEvents, c.Uploads != k.TotalUploads,
			c.Processing != k.TotalProcessing, c.Downloads != k.TotalDownloads,
			c.UniqueSessions != k.UniqueSessions:
			errs = append(errs, fmt.Errorf("%s/%s: KPI row disagrees with recount %+v", k.Date, k.ToolName, c))
		}
	}
	return errors.Join(errs...)
}
