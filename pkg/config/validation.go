package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg's struct tags (see the validate:"..." tags on
// LoggingConfig, ServerConfig, TelemetryConfig, MetricsConfig, and the
// store/scheduler/worker config types) and the cross-field invariants a
// struct tag can't express: every store name a scheduler or worker section
// references must actually exist in cfg.Stores.
//
// go-playground/validator is declared by the teacher's go.mod but never
// actually used there; this is its first real caller in this codebase.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if len(cfg.Stores) == 0 {
		return fmt.Errorf("config validation: at least one entry in stores is required")
	}
	if cfg.Scheduler.CacheLookup != nil {
		if err := requireStore(cfg, cfg.Scheduler.CacheLookup.CASStore, "scheduler.cache_lookup.cas_store"); err != nil {
			return err
		}
		if err := requireStore(cfg, cfg.Scheduler.CacheLookup.ACStore, "scheduler.cache_lookup.ac_store"); err != nil {
			return err
		}
	}
	if cfg.Worker.CASStore != "" {
		if err := requireStore(cfg, cfg.Worker.CASStore, "worker.cas_store"); err != nil {
			return err
		}
	}
	return nil
}

func requireStore(cfg *Config, name, field string) error {
	if _, ok := cfg.Stores[name]; !ok {
		return fmt.Errorf("config validation: %s references undefined store %q", field, name)
	}
	return nil
}
