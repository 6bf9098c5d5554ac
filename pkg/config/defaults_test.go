package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsNormalizesLogLevelCase(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Port: 9999}}
	ApplyDefaults(cfg)
	assert.Equal(t, 9999, cfg.Metrics.Port)
}

func TestGetDefaultConfigHasMemoryCASAndAC(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.Equal(t, KindMemory, cfg.Stores["cas"].Kind)
	assert.Equal(t, KindMemory, cfg.Stores["ac"].Kind)
}
