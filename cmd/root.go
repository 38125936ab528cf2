package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/starkpi/internal/adapters/replica/clickhouse"
	"github.com/okian/starkpi/internal/adapters/repository"
	"github.com/okian/starkpi/internal/adapters/source"
	service "github.com/okian/starkpi/internal/app"
	"github.com/okian/starkpi/internal/config"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/spf13/cobra"
)

// globalFlags override the loaded configuration.
type globalFlags struct {
	dbPath   string
	logLevel string
}

func rootCmd() *cobra.Command {
	var gf globalFlags
	cmd := &cobra.Command{
		Use:           "starkpi",
		Short:         "Load analytics events into a star-schema KPI warehouse",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&gf.dbPath, "db", "", "Warehouse file (overrides STARKPI_DB_PATH)")
	cmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Log level (overrides STARKPI_LOG_LEVEL)")

	cmd.AddCommand(
		runCmd(&gf),
		loadCmd(&gf),
		serveCmd(&gf),
		rebuildCmd(&gf),
		reportCmd(&gf),
		qualityCmd(&gf),
	)
	return cmd
}

// env is everything a command needs, built from configuration.
type env struct {
	cfg     *config.Config
	log     logger.Logger
	store   *repository.Store
	svc     *service.Service
	replica *clickhouse.Publisher
}

type setupOptions struct {
	source  bool
	replica bool
	since   string
}

// setup loads configuration, initializes logging and opens the warehouse.
func setup(cmd *cobra.Command, gf *globalFlags, so setupOptions) (*env, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if gf.dbPath != "" {
		cfg.DBPath = gf.dbPath
	}
	if gf.logLevel != "" {
		cfg.LogLevel = gf.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(
		logger.WithFormat(cfg.LogFormat),
		logger.WithLevel(cfg.LogLevel),
		logger.WithWriter(cmd.ErrOrStderr()),
	); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	lg := logger.Get()

	canonical, err := cfg.CanonicalLocation()
	if err != nil {
		return nil, err
	}
	sourceLoc, err := cfg.SourceLocation()
	if err != nil {
		return nil, err
	}

	store, err := repository.Open(ctx, cfg.DBPath,
		repository.WithLogger(lg.Named("repository")),
		repository.WithBusyTimeout(cfg.BusyTimeout()),
	)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: lg, store: store}

	opts := []service.Option{
		service.WithLogger(lg.Named("etl")),
		service.WithCanonicalLocation(canonical),
		service.WithSourceLocation(sourceLoc),
		service.WithLockWait(cfg.LockTimeout()),
		service.WithDownloadsTolerance(cfg.DownloadsTolerance),
		service.WithFutureSkew(cfg.FutureSkew()),
		service.WithQueueSize(cfg.QueueSize),
		service.WithSchedule(cfg.Schedule),
	}

	if so.source && cfg.HasSource() {
		var since time.Time
		if so.since != "" {
			if since, err = parseSince(so.since, canonical); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		src := source.NewPostgREST(cfg.SourceURL, cfg.SourceAPIKey,
			source.WithTable(cfg.SourceTable),
			source.WithPageSize(cfg.SourcePageSize),
			source.WithMaxRetries(cfg.SourceMaxRetries),
			source.WithTimeout(cfg.SourceTimeout()),
			source.WithSince(since),
			source.WithDayZone(canonical),
			source.WithLogger(lg.Named("source")),
		)
		opts = append(opts, service.WithSource(src))
	}

	if so.replica && cfg.ClickHouseAddr != "" {
		pub, err := connectReplica(ctx, cfg, lg)
		if err != nil {
			// The replica is optional; runs go on without it.
			lg.Warn(ctx, "clickhouse replica disabled", logger.Error(err))
		} else {
			e.replica = pub
			opts = append(opts, service.WithReplica(pub))
		}
	}

	e.svc = service.New(store, opts...)
	return e, nil
}

func connectReplica(ctx context.Context, cfg *config.Config, lg logger.Logger) (*clickhouse.Publisher, error) {
	conn, err := clickhouse.Connect(ctx, clickhouse.Config{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	})
	if err != nil {
		return nil, err
	}
	pub := clickhouse.New(conn,
		clickhouse.WithTable(cfg.ClickHouseTable),
		clickhouse.WithLogger(lg.Named("clickhouse")),
	)
	if err := pub.InitSchema(ctx); err != nil {
		_ = pub.Close()
		return nil, err
	}
	return pub, nil
}

func (e *env) Close() error {
	var errs []error
	if e.replica != nil {
		errs = append(errs, e.replica.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}
