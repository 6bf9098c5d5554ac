package sizepartitioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	memstore "github.com/marmos91/turbocache/pkg/store/memory"
	"github.com/marmos91/turbocache/pkg/store"
)

func updateString(t *testing.T, s store.Store, data string) digest.Digest {
	t.Helper()
	d := digest.ComputeBytes([]byte(data))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p := bytestream.New(1024)
	go func() {
		p.Write(ctx, []byte(data))
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{}))
	return d
}

func TestRoutesBySize(t *testing.T) {
	small := memstore.New(0)
	large := memstore.New(0)
	sp := New(10, small, large)

	tiny := updateString(t, sp, "abc")
	big := updateString(t, sp, "this string is definitely longer than ten bytes")

	assert.True(t, small.Has(tiny))
	assert.False(t, large.Has(tiny))
	assert.True(t, large.Has(big))
	assert.False(t, small.Has(big))
}

func TestHasWithResultsMixedBatch(t *testing.T) {
	small := memstore.New(0)
	large := memstore.New(0)
	sp := New(10, small, large)

	tiny := updateString(t, small, "abc")
	big := updateString(t, large, "this string is definitely longer than ten bytes")

	ctx := context.Background()
	results, err := sp.HasWithResults(ctx, []digest.Digest{tiny, big})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
	assert.False(t, results[1].Empty())
}
