// Package service runs ETL batches against the warehouse and exposes the
// read side used by the CLI and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/starkpi/internal/adapters/mq/queue"
	"github.com/okian/starkpi/internal/adapters/mq/worker"
	repository "github.com/okian/starkpi/internal/adapters/repository"
	"github.com/okian/starkpi/internal/adapters/schedule"
	"github.com/okian/starkpi/internal/adapters/source"
	"github.com/okian/starkpi/internal/domain/aggregate"
	"github.com/okian/starkpi/internal/domain/dimension"
	"github.com/okian/starkpi/internal/domain/fact"
	"github.com/okian/starkpi/internal/domain/model"
	"github.com/okian/starkpi/internal/domain/quality"
	"github.com/okian/starkpi/internal/domain/types"
	"github.com/okian/starkpi/internal/report"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
)

// Trigger names used for run requests that do not come from the scheduler.
const (
	TriggerManual = "manual"
	TriggerAPI    = "api"
	TriggerFile   = "file"
)

// Replica receives the KPI rows a committed run recomputed.
type Replica interface {
	Publish(ctx context.Context, rows []model.KPIView) error
}

// Service owns one warehouse and runs batches against it.
type Service struct {
	mu sync.RWMutex

	store   *repository.Store
	source  source.Source
	replica Replica

	dims    *dimension.Loader
	facts   *fact.Loader
	agg     *aggregate.Aggregator
	gate    *quality.Gate
	reports *report.Builder

	// Configuration
	canonicalLoc       *time.Location
	sourceLoc          *time.Location
	lockWait           time.Duration
	downloadsTolerance int64
	futureSkew         time.Duration
	schedule           string
	queueSize          int
	now                func() time.Time
	newID              func() string

	// Serve mode
	started   bool
	queue     *queue.InMemoryQueue
	worker    *worker.InMemoryWorker
	scheduler *schedule.Scheduler
	cancel    context.CancelFunc

	logger logger.Logger
}

// New constructs a Service over store.
func New(store *repository.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		canonicalLoc: time.UTC,
		sourceLoc:    time.UTC,
		lockWait:     30 * time.Second,
		futureSkew:   5 * time.Minute,
		queueSize:    16,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       logger.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.dims = dimension.NewLoader(
		dimension.WithLocation(s.canonicalLoc),
		dimension.WithLogger(s.logger.Named("dimension")),
	)
	s.facts = fact.NewLoader(fact.WithLogger(s.logger.Named("fact")))
	s.agg = aggregate.New(
		aggregate.WithClock(s.now),
		aggregate.WithLogger(s.logger.Named("aggregate")),
	)
	s.gate = quality.New(store,
		quality.WithDownloadsTolerance(s.downloadsTolerance),
		quality.WithFutureSkew(s.futureSkew),
		quality.WithLogger(s.logger.Named("quality")),
	)
	s.reports = report.New(store,
		report.WithLocation(s.canonicalLoc),
		report.WithClock(s.now),
	)
	return s
}

// Run extracts a batch from the configured source and loads it.
func (s *Service) Run(ctx context.Context, trigger string) (model.RunSummary, error) {
	if s.source == nil {
		return model.RunSummary{}, ErrNoSource
	}
	start := time.Now()
	batch, err := s.source.Extract(ctx)
	metrics.RecordStageDuration("extract", float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Error(ctx, "extraction failed", logger.String("trigger", trigger), logger.Error(err))
		return model.RunSummary{}, fmt.Errorf("%w: extract: %w", ErrRunFailed, err)
	}
	return s.runBatch(ctx, trigger, batch)
}

// RunBatch loads an already extracted batch.
func (s *Service) RunBatch(ctx context.Context, trigger string, batch source.Batch) (model.RunSummary, error) {
	return s.runBatch(ctx, trigger, batch)
}

func (s *Service) runBatch(ctx context.Context, trigger string, batch source.Batch) (model.RunSummary, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	sum := model.RunSummary{
		RunID:         s.newID(),
		Trigger:       trigger,
		StartedAt:     s.now(),
		RecordsSeen:   len(batch.Records),
		ExpectedCount: batch.ExpectedCount,
	}
	lg := s.logger.With(logger.String("run_id", sum.RunID), logger.String("trigger", trigger))

	release, err := s.store.Lock(ctx, s.lockWait)
	if err != nil {
		if errors.Is(err, repository.ErrLocked) {
			lg.Warn(ctx, "warehouse lock not acquired", logger.Duration("waited", s.lockWait))
			err = fmt.Errorf("%w: %w", ErrLocked, err)
		}
		sum.Status = model.RunFailed
		sum.FinishedAt = s.now()
		sum.Error = err.Error()
		metrics.RecordRun(string(model.RunFailed), "")
		return sum, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}
	defer func() {
		if rerr := release(); rerr != nil {
			lg.Warn(ctx, "release warehouse lock", logger.Error(rerr))
		}
	}()

	lg.Info(ctx, "run started", logger.Int("records", sum.RecordsSeen))

	pairs, err := s.load(ctx, lg, &sum, batch.Records)
	if err != nil {
		return s.fail(ctx, lg, &sum, err)
	}

	window := windowOf(pairs)
	qr, err := s.gate.Check(ctx, quality.Request{
		Window:   window,
		Expected: batch.ExpectedCount,
		RunStart: sum.StartedAt,
	})
	if err != nil {
		lg.Error(ctx, "quality gate could not be evaluated", logger.Error(err))
	} else {
		sum.Quality = &qr
		for _, d := range qr.Deviations {
			metrics.RecordQualityDeviation(d.Check)
		}
	}

	sum.Status = model.RunCompleted
	sum.FinishedAt = s.now()
	if err := s.store.SaveRun(ctx, &sum); err != nil {
		lg.Error(ctx, "save run history", logger.Error(err))
	}
	s.record(&sum)
	s.publish(ctx, lg, window, pairs)

	verdict := ""
	if sum.Quality != nil {
		verdict = string(sum.Quality.Verdict)
	}
	lg.Info(ctx, "run completed",
		logger.Int("accepted", sum.Accepted),
		logger.Int("duplicate", sum.Duplicate),
		logger.Int("malformed", sum.Malformed),
		logger.Int("unknown_event_type", sum.UnknownEventType),
		logger.Int("kpi_rows", sum.KPIRowsRecomputed),
		logger.String("verdict", verdict),
		logger.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)))
	return sum, nil
}

// load runs the transform inside one transaction and returns the touched
// (date, tool) pairs.
func (s *Service) load(ctx context.Context, lg logger.Logger, sum *model.RunSummary, records []model.RawRecord) ([]model.DayTool, error) {
	events := make([]model.Event, 0, len(records))
	for i := range records {
		ev, err := model.ParseRecord(&records[i], s.sourceLoc)
		if err != nil {
			sum.Malformed++
			lg.Warn(ctx, "malformed record skipped", logger.Int("index", i), logger.Error(err))
			continue
		}
		events = append(events, ev)
	}

	tx, err := s.store.Begin(ctx, sum.RunID)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, repository.ErrTxDone) {
				lg.Warn(ctx, "rollback", logger.Error(rerr))
			}
		}
	}()

	stage := time.Now()
	keys, err := s.dims.Load(ctx, tx, events)
	if err != nil {
		return nil, fmt.Errorf("dimensions: %w", err)
	}
	metrics.RecordStageDuration("dimensions", float64(time.Since(stage).Milliseconds()))

	stage = time.Now()
	counts, err := s.facts.Load(ctx, tx, events, keys)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	metrics.RecordStageDuration("facts", float64(time.Since(stage).Milliseconds()))

	stage = time.Now()
	pairs := aggregate.PairsOf(keys)
	n, err := s.agg.Recompute(ctx, tx, pairs)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	metrics.RecordStageDuration("aggregate", float64(time.Since(stage).Milliseconds()))

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	sum.Accepted = counts.Accepted
	sum.Duplicate = counts.Duplicate
	sum.UnknownEventType = counts.UnknownEventType
	sum.KPIRowsRecomputed = n
	return pairs, nil
}

func (s *Service) fail(ctx context.Context, lg logger.Logger, sum *model.RunSummary, err error) (model.RunSummary, error) {
	sum.Status = model.RunFailed
	sum.FinishedAt = s.now()
	sum.Accepted, sum.Duplicate, sum.UnknownEventType, sum.KPIRowsRecomputed = 0, 0, 0, 0
	sum.Error = err.Error()
	lg.Error(ctx, "run failed, rolled back", logger.Error(err))

	// The caller's context may be the reason the run failed.
	saveCtx := context.WithoutCancel(ctx)
	if serr := s.store.SaveRun(saveCtx, sum); serr != nil {
		lg.Warn(ctx, "save failed run", logger.Error(serr))
	}
	s.record(sum)
	return *sum, fmt.Errorf("%w: %w", ErrRunFailed, err)
}

func (s *Service) record(sum *model.RunSummary) {
	verdict := ""
	if sum.Quality != nil {
		verdict = string(sum.Quality.Verdict)
	}
	metrics.RecordRun(string(sum.Status), verdict)
	metrics.RecordRunDuration(float64(sum.FinishedAt.Sub(sum.StartedAt).Milliseconds()))
	metrics.UpdateLastRunUnix(string(sum.Status), float64(sum.FinishedAt.Unix()))
	if sum.Status != model.RunCompleted {
		return
	}
	metrics.RecordRecords("accepted", sum.Accepted)
	metrics.RecordRecords("duplicate", sum.Duplicate)
	metrics.RecordRecords("malformed", sum.Malformed)
	metrics.RecordRecords("unknown_event_type", sum.UnknownEventType)
	metrics.RecordKPIRowsRecomputed(sum.KPIRowsRecomputed)
}

// publish mirrors the touched KPI rows. Failures are logged only.
func (s *Service) publish(ctx context.Context, lg logger.Logger, w model.Window, pairs []model.DayTool) {
	if s.replica == nil || len(pairs) == 0 {
		return
	}
	rows, err := s.store.KPIs(ctx, model.KPIFilter{From: w.From, To: w.To})
	if err != nil {
		lg.Warn(ctx, "replica: read KPI rows", logger.Error(err))
		return
	}
	touched := make(map[model.DayTool]struct{}, len(pairs))
	for _, p := range pairs {
		touched[p] = struct{}{}
	}
	out := rows[:0]
	for _, r := range rows {
		if _, ok := touched[model.DayTool{Date: r.Date, ToolKey: r.ToolKey}]; ok {
			out = append(out, r)
		}
	}
	if err := s.replica.Publish(ctx, out); err != nil {
		lg.Warn(ctx, "replica publish failed", logger.Int("rows", len(out)), logger.Error(err))
		return
	}
	lg.Debug(ctx, "replica updated", logger.Int("rows", len(out)))
}

func windowOf(pairs []model.DayTool) model.Window {
	var w model.Window
	for _, p := range pairs {
		if w.From == "" || p.Date < w.From {
			w.From = p.Date
		}
		if p.Date > w.To {
			w.To = p.Date
		}
	}
	return w
}

// RebuildKPIs recomputes every (date, tool) row present in the fact table
// and drops KPI rows with no facts left.
func (s *Service) RebuildKPIs(ctx context.Context) (int, error) {
	release, err := s.store.Lock(ctx, s.lockWait)
	if err != nil {
		if errors.Is(err, repository.ErrLocked) {
			return 0, fmt.Errorf("%w: %w", ErrLocked, err)
		}
		return 0, err
	}
	defer func() { _ = release() }()

	tx, err := s.store.Begin(ctx, "rebuild-"+s.newID())
	if err != nil {
		return 0, err
	}
	dropped, err := tx.DeleteAllKPIs(ctx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	pairs, err := tx.DayToolPairs(ctx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	n, err := s.agg.Recompute(ctx, tx, pairs)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.RecordKPIRowsRecomputed(n)
	s.logger.Info(ctx, "KPI table rebuilt", logger.Int64("dropped", dropped), logger.Int("rows", n))
	return n, nil
}

// Quality runs the gate over w without a run. An empty window checks
// referential integrity only.
func (s *Service) Quality(ctx context.Context, w model.Window) (model.QualityReport, error) {
	return s.gate.Check(ctx, quality.Request{Window: w, RunStart: s.now()})
}

// KPIs returns stored KPI rows.
func (s *Service) KPIs(ctx context.Context, f model.KPIFilter) ([]model.KPIView, error) {
	return s.store.KPIs(ctx, f)
}

// Runs returns the most recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	return s.store.Runs(ctx, limit)
}

// LatestRun returns the most recent run. It wraps repository.ErrNotFound
// when there is none.
func (s *Service) LatestRun(ctx context.Context) (model.RunSummary, error) {
	return s.store.LatestRun(ctx)
}

// RunByID returns one run from the history.
func (s *Service) RunByID(ctx context.Context, runID string) (model.RunSummary, error) {
	return s.store.Run(ctx, runID)
}

// Report builds a dashboard summary for [from, to].
func (s *Service) Report(ctx context.Context, from, to string) (report.Summary, error) {
	return s.reports.Build(ctx, from, to)
}

// ReportLastDays builds a summary over the last n canonical days.
func (s *Service) ReportLastDays(ctx context.Context, n int) (report.Summary, error) {
	from, to := s.reports.LastDays(n)
	return s.reports.Build(ctx, from, to)
}

// Ping checks the warehouse.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns warehouse and runner statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	tables, err := s.store.TableCounts(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	for table, n := range tables {
		metrics.UpdateRepositoryRows(table, n)
	}

	st := types.Stats{Tables: tables}
	last, err := s.store.LatestRun(ctx)
	switch {
	case err == nil:
		st.LastRun = &last
	case !errors.Is(err, repository.ErrNotFound):
		return types.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Started = s.started
	if s.started {
		st.QueueLength = s.queue.Len(ctx)
		metrics.UpdateQueueSize(st.QueueLength)
	}
	if s.scheduler != nil {
		st.Schedule = s.scheduler.Spec()
		if next := s.scheduler.Next(); !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st, nil
}

// Start launches the run queue, its worker and, when a schedule is set, the
// cron scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting ETL runner...")

	q := queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	w := worker.NewInMemoryWorker(q, s,
		worker.WithLogger(s.logger),
		worker.WithResultHandler(s.onResult),
	)

	var sched *schedule.Scheduler
	if s.schedule != "" {
		var err error
		sched, err = schedule.New(s.schedule, q,
			schedule.WithLocation(s.canonicalLoc),
			schedule.WithLogger(s.logger.Named("schedule")),
		)
		if err != nil {
			_ = q.Close()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go w.Run(runCtx)
	if sched != nil {
		sched.Start()
	}

	s.queue = q
	s.worker = w
	s.scheduler = sched
	s.cancel = cancel
	s.started = true

	s.logger.Info(ctx, "ETL runner started",
		logger.Int("queueSize", s.queueSize),
		logger.String("schedule", s.schedule),
	)
	return nil
}

// Stop stops the scheduler, lets the worker finish its current run and
// shuts the queue down. Requests still queued are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping ETL runner...")

	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Warn(ctx, "scheduler stop", logger.Error(err))
		}
	}
	if err := s.worker.Shutdown(ctx); err != nil && !errors.Is(err, worker.ErrStopped) {
		s.logger.Warn(ctx, "worker shutdown", logger.Error(err))
	}
	s.cancel()
	_ = s.queue.Close()

	s.started = false
	s.scheduler = nil
	s.logger.Info(ctx, "ETL runner stopped")
}

// Submit queues a run request. coalesced is true when an identical trigger
// was already waiting and r is that request.
func (s *Service) Submit(ctx context.Context, trigger string) (r queue.Request, coalesced bool, err error) {
	s.mu.RLock()
	q := s.queue
	started := s.started
	s.mu.RUnlock()
	if !started {
		return queue.Request{}, false, ErrNotStarted
	}
	return q.Submit(ctx, queue.Request{ID: s.newID(), Trigger: trigger})
}

func (s *Service) onResult(ctx context.Context, r queue.Request, sum model.RunSummary, err error) {
	if err != nil {
		s.logger.Error(ctx, "queued run failed",
			logger.String("request_id", r.ID),
			logger.String("run_id", sum.RunID),
			logger.Error(err))
	}
}
