package config

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/scheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/factory"
	"github.com/marmos91/turbocache/pkg/scheduler/propertymodifier"
	"github.com/marmos91/turbocache/pkg/storemanager"
)

// SchedulerConfig describes the ActionScheduler decorator chain a
// deployment builds: an optional cache lookup in front of an optional
// property-modifier stage, terminating at a downstream gRPC scheduler this
// process forwards to (generalizing the teacher's registry.go, which wired
// a Registry of metadata/payload stores from config the same declarative
// way).
type SchedulerConfig struct {
	// Backend is the downstream gRPC scheduler address every action is
	// ultimately forwarded to.
	Backend string `mapstructure:"backend" validate:"required" yaml:"backend"`

	// CacheLookup enables the cache-lookup decorator in front of Backend.
	// CASStore/ACStore name entries in Config.Stores.
	CacheLookup *CacheLookupConfig `mapstructure:"cache_lookup" yaml:"cache_lookup,omitempty"`

	// PropertyModifier enables the property-modifier decorator in front
	// of Backend (or CacheLookup, if also enabled).
	PropertyModifier *PropertyModifierConfig `mapstructure:"property_modifier" yaml:"property_modifier,omitempty"`

	// KnownProperties declares every platform property this deployment's
	// PlatformPropertyManager recognizes, and how its value is
	// interpreted: "exact", "minimum", or "priority".
	KnownProperties map[string]string `mapstructure:"known_properties" yaml:"known_properties,omitempty"`

	// CleanupInterval is how often CleanRecentlyCompletedActions runs on
	// the built chain's root. Defaults to factory.DefaultCleanupInterval.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval,omitempty"`

	// ACIndex optionally enables a queryable, persistent secondary index
	// of completed actions. The scheduler chain itself keeps no history of
	// completed actions.
	ACIndex *ACIndexConfig `mapstructure:"ac_index" yaml:"ac_index,omitempty"`
}

// ACIndexConfig configures the optional acindex.Index.
type ACIndexConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// RetentionPeriod bounds how long a completed action stays queryable
	// before Prune removes it.
	RetentionPeriod time.Duration `mapstructure:"retention_period" validate:"required,gt=0" yaml:"retention_period"`
}

type CacheLookupConfig struct {
	CASStore string `mapstructure:"cas_store" validate:"required" yaml:"cas_store"`
	ACStore  string `mapstructure:"ac_store" validate:"required" yaml:"ac_store"`
}

type PropertyModifierConfig struct {
	// Add sets a property to a fixed value on every submitted action, in
	// list order.
	Add []PropertyModifierAdd `mapstructure:"add" yaml:"add,omitempty"`
	// Remove deletes a property from every submitted action, in list
	// order (after every Add is applied).
	Remove []string `mapstructure:"remove" yaml:"remove,omitempty"`
}

type PropertyModifierAdd struct {
	Key   string `mapstructure:"key" validate:"required" yaml:"key"`
	Kind  string `mapstructure:"kind" validate:"required,oneof=exact minimum priority" yaml:"kind"`
	Value string `mapstructure:"value" yaml:"value"`
}

// WorkerConfig configures a RunningActionsManager, when this process runs
// in worker mode.
type WorkerConfig struct {
	// WorkerID identifies this worker to the scheduler it connects to.
	WorkerID string `mapstructure:"worker_id" validate:"required_with=RootWorkDirectory CASStore" yaml:"worker_id"`

	// RootWorkDirectory is where every action's work directory is
	// created under.
	RootWorkDirectory string `mapstructure:"root_work_directory" validate:"required_with=WorkerID CASStore" yaml:"root_work_directory"`

	// CASStore names the entry in Config.Stores this worker downloads
	// inputs from and uploads outputs to.
	CASStore string `mapstructure:"cas_store" validate:"required_with=WorkerID RootWorkDirectory" yaml:"cas_store"`
}

// BuildPlatformManager builds a platform.Manager from cfg.KnownProperties.
func (cfg SchedulerConfig) BuildPlatformManager() (*platform.Manager, error) {
	known := make(map[string]platform.Type, len(cfg.KnownProperties))
	for key, kind := range cfg.KnownProperties {
		typ, err := parsePlatformType(kind)
		if err != nil {
			return nil, fmt.Errorf("scheduler.known_properties[%s]: %w", key, err)
		}
		known[key] = typ
	}
	return platform.NewManager(known), nil
}

func parsePlatformType(kind string) (platform.Type, error) {
	switch kind {
	case "exact":
		return platform.TypeExact, nil
	case "minimum":
		return platform.TypeMinimum, nil
	case "priority":
		return platform.TypePriority, nil
	default:
		return 0, fmt.Errorf("unrecognized platform property kind %q", kind)
	}
}

// BuildScheduler dials cfg.Backend and assembles the ActionScheduler chain
// described by cfg, resolving CASStore/ACStore by name through manager.
func (cfg SchedulerConfig) BuildScheduler(ctx context.Context, manager *storemanager.Manager) (scheduler.ActionScheduler, error) {
	conn, err := dialInsecure(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("dialing scheduler backend %s: %w", cfg.Backend, err)
	}

	node := &factory.Config{Kind: factory.KindGRPC, GRPC: &factory.GRPCConfig{Conn: conn}}

	if cfg.PropertyModifier != nil {
		ops, err := buildPropertyModifierOps(cfg.PropertyModifier)
		if err != nil {
			return nil, err
		}
		node = &factory.Config{
			Kind:             factory.KindPropertyModifier,
			PropertyModifier: &factory.PropertyModifierConfig{Ops: ops, Inner: node},
		}
	}

	if cfg.CacheLookup != nil {
		casStore, err := manager.Get(cfg.CacheLookup.CASStore)
		if err != nil {
			return nil, err
		}
		acStore, err := manager.Get(cfg.CacheLookup.ACStore)
		if err != nil {
			return nil, err
		}
		node = &factory.Config{
			Kind: factory.KindCacheLookup,
			CacheLookup: &factory.CacheLookupConfig{
				CASStore: casStore,
				ACStore:  acStore,
				Inner:    node,
			},
		}
	}

	return factory.New(node)
}

func buildPropertyModifierOps(cfg *PropertyModifierConfig) ([]propertymodifier.Op, error) {
	var ops []propertymodifier.Op
	for _, add := range cfg.Add {
		typ, err := parsePlatformType(add.Kind)
		if err != nil {
			return nil, fmt.Errorf("scheduler.property_modifier.add[%s]: %w", add.Key, err)
		}
		var value platform.Value
		switch typ {
		case platform.TypeMinimum:
			var n uint64
			if _, err := fmt.Sscanf(add.Value, "%d", &n); err != nil {
				return nil, fmt.Errorf("scheduler.property_modifier.add[%s]: value %q is not an integer", add.Key, add.Value)
			}
			value = platform.Minimum(n)
		case platform.TypePriority:
			value = platform.Priority(add.Value)
		default:
			value = platform.Exact(add.Value)
		}
		ops = append(ops, propertymodifier.Add(add.Key, value))
	}
	for _, key := range cfg.Remove {
		ops = append(ops, propertymodifier.Remove(key))
	}
	return ops, nil
}

func dialInsecure(ctx context.Context, address string) (*grpc.ClientConn, error) {
	return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func parseDurationField(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
