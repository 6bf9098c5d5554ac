package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/turbocache/internal/logger"
	"github.com/marmos91/turbocache/internal/telemetry"
	"github.com/marmos91/turbocache/pkg/acindex"
	"github.com/marmos91/turbocache/pkg/config"
	"github.com/marmos91/turbocache/pkg/metrics"

	// Import prometheus metrics to register init() functions.
	_ "github.com/marmos91/turbocache/pkg/metrics/prometheus"
	"github.com/marmos91/turbocache/pkg/scheduler/factory"
	"github.com/marmos91/turbocache/pkg/storemanager"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the configured CAS/AC store tree and scheduler chain, and serve metrics",
	Long: `serve constructs the store tree and ActionScheduler chain described by
the configuration file, keeps the scheduler's cleanup timer running, and (if
enabled) serves Prometheus metrics over HTTP.

Examples:
  turbocache serve
  turbocache serve --config /etc/turbocache/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "turbocache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "turbocache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("turbocache serve starting", "config", getConfigSource(GetConfigFile()))
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	manager := storemanager.New()
	if err := config.BuildStores(ctx, cfg.Stores, manager); err != nil {
		return fmt.Errorf("failed to build store tree: %w", err)
	}
	logger.Info("store tree built", "stores", manager.Names())

	scheduler, err := cfg.Scheduler.BuildScheduler(ctx, manager)
	if err != nil {
		return fmt.Errorf("failed to build scheduler chain: %w", err)
	}
	go factory.StartCleanupTimer(ctx, scheduler, cfg.Scheduler.CleanupInterval)
	logger.Info("scheduler chain built", "backend", cfg.Scheduler.Backend)

	var acIndex *acindex.Index
	if cfg.Scheduler.ACIndex != nil {
		acIndex, err = acindex.Open(cfg.Scheduler.ACIndex.Path)
		if err != nil {
			return fmt.Errorf("failed to open action index: %w", err)
		}
		defer func() {
			if err := acIndex.Close(); err != nil {
				logger.Error("action index close error", "error", err)
			}
		}()
		logger.Info("action index enabled", "path", cfg.Scheduler.ACIndex.Path)
		go runACIndexPruneLoop(ctx, acIndex, cfg.Scheduler.ACIndex.RetentionPeriod)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics collection disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("turbocache is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, initiating graceful shutdown")
	cancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("turbocache stopped")
	return nil
}

// runACIndexPruneLoop deletes action index entries older than retention on a
// fixed cadence, independently of the scheduler chain's own
// CleanRecentlyCompletedActions timer. It exits once ctx is cancelled.
func runACIndexPruneLoop(ctx context.Context, idx *acindex.Index, retention time.Duration) {
	ticker := time.NewTicker(retention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := idx.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("action index prune error", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("action index pruned", "removed", removed)
			}
		}
	}
}
