package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/turbocache/internal/logger"
	"github.com/marmos91/turbocache/pkg/config"
	"github.com/marmos91/turbocache/pkg/storemanager"
	"github.com/marmos91/turbocache/pkg/worker"
)

var (
	workerID      string
	workerPIDFile string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a RunningActionsManager against the configured CAS store",
	Long: `worker builds the store tree described by the configuration file,
resolves Worker.CASStore from it, and brings up a RunningActionsManager
rooted at Worker.RootWorkDirectory ready to prepare, execute, and upload
actions assigned to it.

Examples:
  turbocache worker --worker-id worker-1
  turbocache worker --config /etc/turbocache/config.yaml --worker-id worker-1
  turbocache worker --worker-id worker-1 --pid-file /var/run/turbocache-worker.pid`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "worker-id", "", "unique identifier for this worker")
	workerCmd.Flags().StringVar(&workerPIDFile, "pid-file", "", "write this worker's PID here, so turbocache-admin drain can signal it")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if workerID == "" {
		workerID = cfg.Worker.WorkerID
	}
	if workerID == "" {
		return fmt.Errorf("worker: --worker-id is required (or set worker.worker_id in config)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := storemanager.New()
	if err := config.BuildStores(ctx, cfg.Stores, manager); err != nil {
		return fmt.Errorf("failed to build store tree: %w", err)
	}

	casStore, err := manager.Get(cfg.Worker.CASStore)
	if err != nil {
		return fmt.Errorf("worker: resolving worker.cas_store %q: %w", cfg.Worker.CASStore, err)
	}

	actionsManager, err := worker.NewManager(cfg.Worker.RootWorkDirectory, casStore)
	if err != nil {
		return fmt.Errorf("failed to create running actions manager: %w", err)
	}
	_ = actionsManager

	if workerPIDFile != "" {
		if err := os.WriteFile(workerPIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(workerPIDFile) }()
	}

	// TODO: drive actionsManager.CreateAndAddAction from an upstream
	// ConnectWorker stream once a server-side scheduler implementation
	// exists to issue remoteexec.StartExecute messages over it; until
	// then this command only proves the worker can stand up its work
	// directory and CAS connection.
	logger.Info("worker ready",
		"worker_id", workerID,
		"root_work_directory", cfg.Worker.RootWorkDirectory,
		"cas_store", cfg.Worker.CASStore)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("turbocache worker is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)
	cancel()
	logger.Info("worker stopped")
	return nil
}
