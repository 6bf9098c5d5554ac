// Package scheduler defines the ActionScheduler contract and the shared
// ActionInfo/ActionState types every scheduler decorator in
// pkg/scheduler/{cachelookup,propertymodifier,grpcscheduler} operates on.
package scheduler

import (
	"context"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/scheduler/watch"
)

// DefaultExecutionPriority is the priority value meaning "no explicit
// execution policy requested".
const DefaultExecutionPriority = 0

// ActionInfoHashKey identifies one submitted action. Salt lets a caller
// force two otherwise-identical submissions to be scheduled independently
// instead of being coalesced by a CacheLookupScheduler's in-flight map.
type ActionInfoHashKey struct {
	InstanceName string
	Digest       digest.Digest
	Salt         uint64
}

// ActionInfo is everything needed to schedule and (eventually) execute one
// action.
type ActionInfo struct {
	UniqueQualifier    ActionInfoHashKey
	CommandDigest      digest.Digest
	InputRootDigest    digest.Digest
	PlatformProperties platform.Properties
	SkipCacheLookup    bool
	Priority           int32
}

// InstanceName is a convenience accessor mirroring the hash key's field.
func (a ActionInfo) InstanceName() string { return a.UniqueQualifier.InstanceName }

// ActionDigest is a convenience accessor mirroring the hash key's field.
func (a ActionInfo) ActionDigest() digest.Digest { return a.UniqueQualifier.Digest }

// ActionState is the mutable, broadcast status of one in-flight or
// completed action. Stage progresses monotonically; Completed is terminal
// whether the result came from cache (FromCache) or from running the
// action. Err is set alongside a Completed stage when the action failed to
// even run (scheduling/backend failure, not a nonzero exit code — that's a
// normal completed ActionResult).
type ActionState struct {
	UniqueQualifier ActionInfoHashKey
	Stage           remoteexec.ActionStage
	FromCache       bool
	Result          *remoteexec.ActionResult
	Err             error
}

// Subscription is what AddAction/FindExistingAction hand back: a read-only
// view onto an ActionState that the scheduler continues to update until
// the action reaches a terminal stage.
type Subscription = *watch.Receiver[*ActionState]

// ActionScheduler is the action-submission contract. Every scheduler
// decorator (CacheLookupScheduler, PropertyModifierScheduler) wraps one and
// forwards whatever it doesn't itself handle; GrpcScheduler is the terminal
// implementation that forwards to an upstream RBE execution service.
type ActionScheduler interface {
	// GetPlatformPropertyManager returns the Manager that classifies raw
	// platform properties for the given instance.
	GetPlatformPropertyManager(ctx context.Context, instanceName string) (*platform.Manager, error)
	// AddAction submits an action and returns a subscription to its state.
	AddAction(ctx context.Context, info ActionInfo) (Subscription, error)
	// FindExistingAction looks up an in-flight or recently-submitted
	// action by key, returning false if none is found anywhere in the
	// chain.
	FindExistingAction(ctx context.Context, key ActionInfoHashKey) (Subscription, bool)
	// CleanRecentlyCompletedActions drops bookkeeping for actions whose
	// terminal state has already been observed by every subscriber. Called
	// periodically by the owner of the scheduler chain.
	CleanRecentlyCompletedActions(ctx context.Context)
}
