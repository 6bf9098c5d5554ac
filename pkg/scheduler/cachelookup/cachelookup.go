// Package cachelookup implements CacheLookupScheduler: an ActionScheduler
// decorator that checks the Action Cache before forwarding an action to the
// wrapped scheduler, coalescing concurrent lookups for the same action.
package cachelookup

import (
	"bytes"
	"context"
	"sync"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/scheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/watch"
	"github.com/marmos91/turbocache/pkg/store"
)

// Scheduler decorates an inner scheduler.ActionScheduler with an
// Action-Cache fast path.
type Scheduler struct {
	casStore store.Store
	acStore  store.Store
	inner    scheduler.ActionScheduler

	mu       sync.Mutex
	inFlight map[scheduler.ActionInfoHashKey]*watch.Sender[*scheduler.ActionState]
}

// New wraps inner with a cache-lookup fast path backed by acStore (Action
// Cache) and casStore (the CAS used to validate a cached result's outputs
// still exist).
func New(casStore, acStore store.Store, inner scheduler.ActionScheduler) *Scheduler {
	return &Scheduler{
		casStore: casStore,
		acStore:  acStore,
		inner:    inner,
		inFlight: make(map[scheduler.ActionInfoHashKey]*watch.Sender[*scheduler.ActionState]),
	}
}

func (s *Scheduler) GetPlatformPropertyManager(ctx context.Context, instanceName string) (*platform.Manager, error) {
	return s.inner.GetPlatformPropertyManager(ctx, instanceName)
}

func (s *Scheduler) CleanRecentlyCompletedActions(ctx context.Context) {
	s.inner.CleanRecentlyCompletedActions(ctx)
}

func (s *Scheduler) AddAction(ctx context.Context, info scheduler.ActionInfo) (scheduler.Subscription, error) {
	if info.SkipCacheLookup {
		return s.inner.AddAction(ctx, info)
	}

	sender := watch.New(&scheduler.ActionState{
		UniqueQualifier: info.UniqueQualifier,
		Stage:           remoteexec.StageCacheCheck,
	})
	rx := sender.Subscribe()
	// Subscribe never delivers the current value, so publish CacheCheck to
	// the new subscriber before the lookup goroutine can move the state on.
	sender.Resend()

	s.mu.Lock()
	s.inFlight[info.UniqueQualifier] = sender
	s.mu.Unlock()

	go s.runCacheCheck(context.WithoutCancel(ctx), info, sender)

	return rx, nil
}

func (s *Scheduler) runCacheCheck(ctx context.Context, info scheduler.ActionInfo, sender *watch.Sender[*scheduler.ActionState]) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, info.UniqueQualifier)
		s.mu.Unlock()
	}()

	if result, ok := s.lookupCachedResult(ctx, info.ActionDigest()); ok {
		if s.validateOutputsExist(ctx, result) {
			sender.Send(&scheduler.ActionState{
				UniqueQualifier: info.UniqueQualifier,
				Stage:           remoteexec.StageCompleted,
				FromCache:       true,
				Result:          result,
			})
			return
		}
	}

	// Not cached, or cached but its outputs are gone from the CAS: forward
	// to the inner scheduler and proxy every state it emits until the
	// subscription ends.
	innerRx, err := s.inner.AddAction(ctx, info)
	if err != nil {
		sender.Send(&scheduler.ActionState{
			UniqueQualifier: info.UniqueQualifier,
			Stage:           remoteexec.StageCompleted,
			Result:          &remoteexec.ActionResult{},
			Err:             err,
		})
		return
	}

	for {
		state, err := innerRx.Recv(ctx)
		if err != nil {
			return
		}
		sender.Send(state)
		if state.Stage == remoteexec.StageCompleted {
			return
		}
	}
}

// lookupCachedResult fetches and decodes the ActionResult stored at
// actionDigest in the Action Cache, if any.
func (s *Scheduler) lookupCachedResult(ctx context.Context, actionDigest digest.Digest) (*remoteexec.ActionResult, bool) {
	found, _, err := store.HasSingle(ctx, s.acStore, actionDigest)
	if err != nil || !found {
		return nil, false
	}

	// The AC entry is keyed by the action digest itself, not by a digest of
	// the stored ActionResult bytes (those two sizes are unrelated), so
	// GetPart must be called with the same actionDigest used above rather
	// than the (differently-sized) digest HasWithResults reports back.
	pipe := bytestream.New(-1)
	go func() { _ = s.acStore.GetPart(ctx, actionDigest, pipe, 0, -1) }()

	var buf bytes.Buffer
	if _, err := pipe.CopyTo(ctx, &buf); err != nil {
		return nil, false
	}

	result, err := remoteexec.DecodeActionResult(buf.Bytes())
	if err != nil {
		return nil, false
	}
	return result, true
}

// validateOutputsExist checks that every digest a cached ActionResult
// references (output file contents, output directory trees) is still
// present in the CAS. casStore.HasWithResults already batches the whole
// list into however many round trips its own implementation needs — a
// store.Store-typed CAS wrapping grpcstore.Store, in particular, turns this
// into the single FindMissingBlobs-equivalent RPC the original scheduler
// special-cased by downcasting to *GrpcStore; here the batching lives in
// the Store contract itself instead of needing a capability probe.
func (s *Scheduler) validateOutputsExist(ctx context.Context, result *remoteexec.ActionResult) bool {
	var required []digest.Digest
	for _, f := range result.OutputFiles {
		if !f.Digest.Empty() {
			required = append(required, f.Digest)
		}
	}
	for _, d := range result.OutputDirectories {
		if !d.TreeDigest.Empty() {
			required = append(required, d.TreeDigest)
		}
	}
	if len(required) == 0 {
		return true
	}

	results, err := s.casStore.HasWithResults(ctx, required)
	if err != nil {
		return false
	}
	for _, r := range results {
		if r.Empty() {
			return false
		}
	}
	return true
}

// FindExistingAction first consults the in-flight cache-check map so a
// concurrent caller observes the same in-progress lookup rather than
// triggering a second one; failing that, it delegates to the inner
// scheduler.
func (s *Scheduler) FindExistingAction(ctx context.Context, key scheduler.ActionInfoHashKey) (scheduler.Subscription, bool) {
	s.mu.Lock()
	sender, ok := s.inFlight[key]
	s.mu.Unlock()
	if ok {
		rx := sender.Subscribe()
		// Subscribe doesn't deliver the sender's current value (see
		// pkg/scheduler/watch's package doc); re-send it so this late
		// subscriber observes the in-progress stage immediately instead of
		// waiting for the next transition.
		sender.Resend()
		return rx, true
	}
	return s.inner.FindExistingAction(ctx, key)
}
