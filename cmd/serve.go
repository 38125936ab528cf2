package main

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/okian/starkpi/internal/adapters/http/api"
	"github.com/okian/starkpi/internal/adapters/http/swagger"
	service "github.com/okian/starkpi/internal/app"
	"github.com/okian/starkpi/pkg/logger"
	"github.com/okian/starkpi/pkg/metrics"
	"github.com/spf13/cobra"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 70 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// TriggerStartup names the run queued by serve --run-now.
const TriggerStartup = "startup"

func serveCmd(gf *globalFlags) *cobra.Command {
	var (
		addr   string
		runNow bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run batches on schedule or on request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(cmd, gf, setupOptions{source: true, replica: true})
			if err != nil {
				return err
			}
			defer e.Close()
			if addr != "" {
				e.cfg.Addr = addr
			}
			lg := e.log

			if err := e.svc.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				e.svc.Stop(stopCtx)
			}()

			if runNow {
				if _, _, err := e.svc.Submit(ctx, TriggerStartup); err != nil {
					lg.Warn(ctx, "startup run not queued", logger.Error(err))
				}
			}

			// Start system metrics updater
			go startSystemMetricsUpdater(ctx)

			// Start service metrics updater
			go startServiceMetricsUpdater(ctx, e.svc, lg)

			apiServer := api.NewServer(e.svc, api.WithLogger(lg.Named("http")))
			swagger.Register(apiServer.Router())

			srv := &http.Server{
				Addr:              e.cfg.Addr,
				Handler:           apiServer,
				ReadTimeout:       readTimeout,
				WriteTimeout:      writeTimeout,
				IdleTimeout:       idleTimeout,
				ReadHeaderTimeout: readHeaderTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				lg.Info(ctx, "starting HTTP server", logger.String("addr", e.cfg.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			// Wait for shutdown signal
			select {
			case <-ctx.Done():
			case err := <-errCh:
				lg.Error(ctx, "HTTP server failed", logger.Error(err))
				return err
			}
			lg.Info(ctx, "shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				lg.Error(ctx, "server shutdown failed", logger.Error(err))
			}
			lg.Info(ctx, "server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides STARKPI_ADDR)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Queue a run immediately after start")
	return cmd
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the table-size and queue gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service, lg logger.Logger) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats updates the gauges as a side effect.
			if _, err := svc.GetStats(ctx); err != nil && ctx.Err() == nil {
				lg.Warn(ctx, "refresh service metrics", logger.Error(err))
			}
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
