package existence

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

func writeDirect(t *testing.T, s store.Store, d digest.Digest, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p := bytestream.New(1024)
	go func() {
		p.Write(ctx, []byte(data))
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{}))
}

func TestCachesPositiveResultWithoutHittingInnerAgain(t *testing.T) {
	inner := memstore.New(0)
	s := New(inner, Options{HitTTL: time.Minute, MissTTL: time.Minute})
	ctx := context.Background()
	d := digest.ComputeBytes([]byte("present"))
	writeDirect(t, s, d, "present")

	// Prime the cache with a positive result from inner.
	primed, err := s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	require.False(t, primed[0].Empty())

	inner.Remove(d) // remove from inner; cached positive result must still answer true

	results, err := s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
}

func TestMissExpiresAndIsReCheckedAfterTTL(t *testing.T) {
	inner := memstore.New(0)
	s := New(inner, Options{HitTTL: time.Minute, MissTTL: 10 * time.Millisecond})
	ctx := context.Background()
	d := digest.ComputeBytes([]byte("late arrival"))

	results, err := s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	assert.True(t, results[0].Empty())

	writeDirect(t, inner, d, "late arrival")

	time.Sleep(15 * time.Millisecond)
	results, err = s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
}

func TestUpdateInvalidatesCachedMiss(t *testing.T) {
	inner := memstore.New(0)
	s := New(inner, Options{HitTTL: time.Minute, MissTTL: time.Minute})
	ctx := context.Background()
	d := digest.ComputeBytes([]byte("will be written"))

	results, err := s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	assert.True(t, results[0].Empty())

	writeDirect(t, s, d, "will be written")

	results, err = s.HasWithResults(ctx, []digest.Digest{d})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
}
