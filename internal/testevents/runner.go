package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/starkpi/internal/adapters/repository"
	"github.com/okian/starkpi/internal/adapters/source"
	service "github.com/okian/starkpi/internal/app"
	"github.com/okian/starkpi/internal/report"
	"github.com/okian/starkpi/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes the complete load test: generate, load twice, verify.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}
	lg := logger.Get()

	lg.Info(ctx, "starting starkpi load test",
		logger.String("db", config.DBPath),
		logger.Int("sessions", config.Sessions),
		logger.Int("days", config.Days),
		logger.Int("workers", config.Workers),
		logger.String("logFile", config.LogFile),
		logger.Bool("verbose", config.Verbose))

	// Step 1: Open the warehouse
	store, cleanup, err := openStore(ctx, config.DBPath)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer cleanup()

	// Step 2: Generate the batch
	batch, err := generateBatch(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	// Step 3: Save it for reuse with `starkpi load`
	if config.OutputFile != "" {
		if err := saveBatchToFile(ctx, config.OutputFile, batch); err != nil {
			lg.Warn(ctx, "failed to save batch to file", logger.Error(err))
		}
	}

	svc := service.New(store, service.WithLogger(lg.Named("etl")))
	src := source.Batch{Records: batch.Records}

	// Step 4: First load accepts everything
	first, err := svc.RunBatch(ctx, TriggerLoadTest, src)
	if err != nil {
		return fmt.Errorf("first load failed: %w", err)
	}
	stats.FirstAccepted, stats.FirstDuplicate = first.Accepted, first.Duplicate

	// Step 5: Second load finds only duplicates
	second, err := svc.RunBatch(ctx, TriggerLoadTest, src)
	if err != nil {
		return fmt.Errorf("second load failed: %w", err)
	}
	stats.SecondAccepted, stats.SecondDuplicate = second.Accepted, second.Duplicate

	// Step 6: Verify results
	if err := verifyResults(ctx, svc, store, batch, &first, &second, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	if config.Verbose {
		sum, err := svc.ReportLastDays(ctx, config.Days+1)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if err := report.Render(os.Stdout, &sum); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	lg.Info(ctx, "test completed successfully")
	return nil
}

// openStore opens path, or a temporary warehouse removed by cleanup when
// path is empty.
func openStore(ctx context.Context, path string) (*repository.Store, func(), error) {
	dir := ""
	if path == "" {
		var err error
		dir, err = os.MkdirTemp("", "starkpi-load-*")
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "warehouse.db")
	}
	store, err := repository.Open(ctx, path, repository.WithLogger(logger.Get().Named("repository")))
	if err != nil {
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close warehouse", logger.Error(err))
		}
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
	}, nil
}

// saveBatchToFile writes the records as NDJSON.
func saveBatchToFile(ctx context.Context, filename string, batch *Batch) error {
	if len(batch.Records) == 0 {
		return fmt.Errorf("no records to save")
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	enc := json.NewEncoder(file)
	for i := range batch.Records {
		if err := enc.Encode(&batch.Records[i]); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	logger.Get().Info(ctx, "batch saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(stats *Stats) {
	var eventsPerSecond float64
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsGenerated*2) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("sessionsGenerated", stats.SessionsGenerated),
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("firstAccepted", stats.FirstAccepted),
		logger.Int("firstDuplicate", stats.FirstDuplicate),
		logger.Int("secondAccepted", stats.SecondAccepted),
		logger.Int("secondDuplicate", stats.SecondDuplicate),
		logger.Int("kpiRows", stats.KPIRows),
		logger.Duration("duration", stats.Duration),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
