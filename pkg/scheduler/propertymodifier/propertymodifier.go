// Package propertymodifier implements PropertyModifierScheduler: an
// ActionScheduler decorator that rewrites an action's platform properties
// with a fixed, ordered list of add/remove operations before forwarding to
// the wrapped scheduler.
package propertymodifier

import (
	"context"

	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/scheduler"
)

// OpKind distinguishes the two operations a modifier list can contain.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
)

// Op is one property mutation applied, in list order, to an action's
// platform properties. Value is ignored for OpRemove.
type Op struct {
	Kind  OpKind
	Key   string
	Value platform.Value
}

// Add builds an Op that sets Key to Value, overwriting anything already
// there.
func Add(key string, value platform.Value) Op { return Op{Kind: OpAdd, Key: key, Value: value} }

// Remove builds an Op that deletes Key, if present.
func Remove(key string) Op { return Op{Kind: OpRemove, Key: key} }

// Scheduler decorates an inner scheduler.ActionScheduler, applying Ops to
// every submitted action's platform properties before forwarding it.
// Operations are applied strictly in list order, so Add followed by Remove
// of the same key leaves it absent, and Remove followed by Add leaves it
// set — the order in Ops controls the outcome entirely.
type Scheduler struct {
	inner scheduler.ActionScheduler
	ops   []Op
}

// New wraps inner with the given ordered list of property operations.
func New(inner scheduler.ActionScheduler, ops []Op) *Scheduler {
	return &Scheduler{inner: inner, ops: append([]Op(nil), ops...)}
}

func (s *Scheduler) GetPlatformPropertyManager(ctx context.Context, instanceName string) (*platform.Manager, error) {
	return s.inner.GetPlatformPropertyManager(ctx, instanceName)
}

func (s *Scheduler) CleanRecentlyCompletedActions(ctx context.Context) {
	s.inner.CleanRecentlyCompletedActions(ctx)
}

func (s *Scheduler) AddAction(ctx context.Context, info scheduler.ActionInfo) (scheduler.Subscription, error) {
	info.PlatformProperties = s.apply(info.PlatformProperties)
	return s.inner.AddAction(ctx, info)
}

func (s *Scheduler) FindExistingAction(ctx context.Context, key scheduler.ActionInfoHashKey) (scheduler.Subscription, bool) {
	return s.inner.FindExistingAction(ctx, key)
}

// apply runs every configured Op against a clone of props, in order, and
// returns the result. Cloning first means the caller's ActionInfo (which
// may be retried or logged elsewhere) never observes the mutation.
func (s *Scheduler) apply(props platform.Properties) platform.Properties {
	out := props.Clone()
	for _, op := range s.ops {
		switch op.Kind {
		case OpAdd:
			out.Set(op.Key, op.Value)
		case OpRemove:
			out.Remove(op.Key)
		}
	}
	return out
}
