package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/scheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/propertymodifier"
	"github.com/marmos91/turbocache/pkg/store/memory"
)

type countingScheduler struct {
	cleanupCalls int
}

func (c *countingScheduler) GetPlatformPropertyManager(ctx context.Context, instanceName string) (*platform.Manager, error) {
	return platform.NewManager(nil), nil
}

func (c *countingScheduler) AddAction(ctx context.Context, info scheduler.ActionInfo) (scheduler.Subscription, error) {
	return nil, nil
}

func (c *countingScheduler) FindExistingAction(ctx context.Context, key scheduler.ActionInfoHashKey) (scheduler.Subscription, bool) {
	return nil, false
}

func (c *countingScheduler) CleanRecentlyCompletedActions(ctx context.Context) {
	c.cleanupCalls++
}

func TestNewBuildsCacheLookupOverPropertyModifierChain(t *testing.T) {
	cas := memory.New(0)
	ac := memory.New(0)

	cfg := &Config{
		Kind: KindCacheLookup,
		CacheLookup: &CacheLookupConfig{
			CASStore: cas,
			ACStore:  ac,
			Inner: &Config{
				Kind: KindPropertyModifier,
				PropertyModifier: &PropertyModifierConfig{
					Ops: []propertymodifier.Op{propertymodifier.Add("pool", platform.Priority("default"))},
					Inner: &Config{
						Kind: KindGRPC,
					},
				},
			},
		},
	}

	// The innermost node is intentionally invalid (no connection) so New
	// must propagate the construction error rather than building a partial
	// chain.
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(&Config{Kind: "bogus"})
	assert.Error(t, err)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestStartCleanupTimerTicksUntilCanceled(t *testing.T) {
	root := &countingScheduler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		StartCleanupTimer(ctx, root, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartCleanupTimer did not return after context cancellation")
	}

	assert.Greater(t, root.cleanupCalls, 0)
}
