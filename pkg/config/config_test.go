package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8980"
stores:
  cas:
    kind: memory
  ac:
    kind: memory
scheduler:
  backend: "scheduler.internal:443"
worker:
  worker_id: "worker-1"
  root_work_directory: "/tmp/turbocache-worker"
  cas_store: "cas"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Second, cfg.Scheduler.CleanupInterval)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadMissingFileUsesDefaultConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, KindMemory, cfg.Stores["cas"].Kind)
}

func TestLoadParsesStoreSizes(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:8980"
stores:
  cas:
    kind: memory
    memory:
      max_size: 512Mi
  ac:
    kind: memory
scheduler:
  backend: "scheduler.internal:443"
worker:
  worker_id: "worker-1"
  root_work_directory: "/tmp/turbocache-worker"
  cas_store: "cas"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 512*1024*1024, cfg.Stores["cas"].Memory.MaxSize)
}

func TestValidateRejectsUndefinedStoreReference(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ListenAddress = "0.0.0.0:8980"
	cfg.Scheduler.Backend = "scheduler.internal:443"
	cfg.Scheduler.CacheLookup = &CacheLookupConfig{CASStore: "missing", ACStore: "ac"}

	err := Validate(cfg)
	assert.ErrorContains(t, err, "missing")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ListenAddress = "0.0.0.0:8980"
	cfg.Scheduler.Backend = "scheduler.internal:443"
	cfg.Scheduler.CacheLookup = &CacheLookupConfig{CASStore: "cas", ACStore: "ac"}

	require.NoError(t, Validate(cfg))
}
