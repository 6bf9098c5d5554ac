// Package factory builds an ActionScheduler decorator chain from a
// declarative Config, the way a deployment wires cache-lookup and
// property-modifier behavior in front of a terminal gRPC scheduler without
// every caller having to know the concrete decorator types.
package factory

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/scheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/cachelookup"
	"github.com/marmos91/turbocache/pkg/scheduler/grpcscheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/propertymodifier"
	"github.com/marmos91/turbocache/pkg/store"
)

// Kind selects which scheduler decorator a Config node builds.
type Kind string

const (
	KindGRPC             Kind = "grpc"
	KindCacheLookup      Kind = "cache_lookup"
	KindPropertyModifier Kind = "property_modifier"
)

// Config is one node in a scheduler decorator chain, recursively wrapping
// Inner for every Kind except KindGRPC (the only terminal kind).
type Config struct {
	Kind Kind

	// GRPC is required when Kind == KindGRPC.
	GRPC *GRPCConfig
	// CacheLookup is required when Kind == KindCacheLookup.
	CacheLookup *CacheLookupConfig
	// PropertyModifier is required when Kind == KindPropertyModifier.
	PropertyModifier *PropertyModifierConfig
}

// GRPCConfig configures a terminal grpcscheduler.Scheduler.
type GRPCConfig struct {
	Conn *grpc.ClientConn
}

// CacheLookupConfig configures a cachelookup.Scheduler wrapping Inner.
type CacheLookupConfig struct {
	CASStore store.Store
	ACStore  store.Store
	Inner    *Config
}

// PropertyModifierConfig configures a propertymodifier.Scheduler wrapping
// Inner.
type PropertyModifierConfig struct {
	Ops   []propertymodifier.Op
	Inner *Config
}

// New recursively builds the ActionScheduler chain described by cfg.
func New(cfg *Config) (scheduler.ActionScheduler, error) {
	if cfg == nil {
		return nil, rpcerr.InvalidArgument("scheduler factory: nil config")
	}

	switch cfg.Kind {
	case KindGRPC:
		if cfg.GRPC == nil || cfg.GRPC.Conn == nil {
			return nil, rpcerr.InvalidArgument("scheduler factory: grpc scheduler requires a connection")
		}
		return grpcscheduler.New(cfg.GRPC.Conn), nil

	case KindCacheLookup:
		if cfg.CacheLookup == nil {
			return nil, rpcerr.InvalidArgument("scheduler factory: cache_lookup scheduler requires configuration")
		}
		inner, err := New(cfg.CacheLookup.Inner)
		if err != nil {
			return nil, err
		}
		return cachelookup.New(cfg.CacheLookup.CASStore, cfg.CacheLookup.ACStore, inner), nil

	case KindPropertyModifier:
		if cfg.PropertyModifier == nil {
			return nil, rpcerr.InvalidArgument("scheduler factory: property_modifier scheduler requires configuration")
		}
		inner, err := New(cfg.PropertyModifier.Inner)
		if err != nil {
			return nil, err
		}
		return propertymodifier.New(inner, cfg.PropertyModifier.Ops), nil

	default:
		return nil, rpcerr.InvalidArgument("scheduler factory: unrecognized scheduler kind %q", cfg.Kind)
	}
}

// DefaultCleanupInterval matches the 1-second cadence the original
// scheduler factory ticks its cleanup timer at.
const DefaultCleanupInterval = time.Second

// StartCleanupTimer periodically calls root.CleanRecentlyCompletedActions
// until ctx is done. Callers run this in its own goroutine for the lifetime
// of the scheduler chain built by New.
func StartCleanupTimer(ctx context.Context, root scheduler.ActionScheduler, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			root.CleanRecentlyCompletedActions(ctx)
		}
	}
}
