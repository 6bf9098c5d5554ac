package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
	"github.com/marmos91/turbocache/pkg/storemanager"
)

func TestBuildStoresMemory(t *testing.T) {
	manager := storemanager.New()
	cfg := map[string]StoreConfig{
		"cas": {Kind: KindMemory},
	}
	require.NoError(t, BuildStores(context.Background(), cfg, manager))

	s, err := manager.Get("cas")
	require.NoError(t, err)
	assert.Equal(t, store.KindMemory, s.Kind())
}

func TestBuildStoresFastSlowAndCompression(t *testing.T) {
	manager := storemanager.New()
	cfg := map[string]StoreConfig{
		"cas": {
			Kind: KindFastSlow,
			FastSlow: &FastSlowStoreConfig{
				Fast: &StoreConfig{Kind: KindMemory},
				Slow: &StoreConfig{
					Kind:        KindCompression,
					Compression: &CompressionStoreConfig{Inner: &StoreConfig{Kind: KindMemory}},
				},
			},
		},
	}
	require.NoError(t, BuildStores(context.Background(), cfg, manager))
	s, err := manager.Get("cas")
	require.NoError(t, err)
	assert.Equal(t, store.KindFastSlow, s.Kind())
}

func TestBuildStoresRefResolvesByName(t *testing.T) {
	manager := storemanager.New()
	cfg := map[string]StoreConfig{
		"cas":     {Kind: KindMemory},
		"cas-ref": {Kind: KindRef, Ref: &RefStoreConfig{Name: "cas"}},
	}
	require.NoError(t, BuildStores(context.Background(), cfg, manager))

	refStore, err := manager.Get("cas-ref")
	require.NoError(t, err)

	ctx := context.Background()
	d := digest.ComputeBytes([]byte("hello"))
	results, err := refStore.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, d, results[0])
}

func TestBuildStoresRejectsUnknownKind(t *testing.T) {
	sc := StoreConfig{Kind: "nonsense"}
	_, err := sc.Build(context.Background(), storemanager.New())
	assert.Error(t, err)
}

func TestBuildStoresMetricsWrapsInnerWithoutChangingKind(t *testing.T) {
	manager := storemanager.New()
	cfg := map[string]StoreConfig{
		"cas": {
			Kind: KindMetrics,
			Metrics: &MetricsStoreConfig{
				Name:  "cas",
				Inner: &StoreConfig{Kind: KindMemory},
			},
		},
	}
	require.NoError(t, BuildStores(context.Background(), cfg, manager))

	s, err := manager.Get("cas")
	require.NoError(t, err)
	assert.Equal(t, store.KindMemory, s.Kind())

	data := []byte("metrics-wrapped")
	d := digest.ComputeBytes(data)
	ctx := context.Background()
	p := bytestream.New(int64(len(data)))
	go func() {
		p.Write(ctx, data)
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{ExactSize: int64(len(data)), HasExactSize: true}))

	results, err := s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, d, results[0])
}

func TestBuildStoresMetricsRequiresInner(t *testing.T) {
	sc := StoreConfig{Kind: KindMetrics, Metrics: &MetricsStoreConfig{Name: "cas"}}
	_, err := sc.Build(context.Background(), storemanager.New())
	assert.Error(t, err)
}
