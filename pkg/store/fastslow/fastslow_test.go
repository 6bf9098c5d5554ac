package fastslow

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

func readAll(t *testing.T, s store.Store, d digest.Digest) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := bytestream.New(1024)
	done := make(chan error, 1)
	go func() { done <- s.GetPart(ctx, d, out, 0, -1) }()

	buf := make([]byte, 256)
	n, _ := out.Read(ctx, buf)
	require.NoError(t, <-done)
	return string(buf[:n])
}

func TestUpdateWritesThroughToSlowAndMirrorsFast(t *testing.T) {
	fast := memstore.New(0)
	slow := memstore.New(0)
	fs := New(fast, slow)

	d := updateString(t, fs, "hello fastslow")

	assert.True(t, slow.Has(d))
	time.Sleep(20 * time.Millisecond) // mirror happens on a background goroutine pair
	assert.True(t, fast.Has(d))
}

func TestGetPartServesFromFastWhenPresent(t *testing.T) {
	fast := memstore.New(0)
	slow := memstore.New(0)
	fs := New(fast, slow)

	d := updateString(t, fast, "only in fast")
	assert.Equal(t, "only in fast", readAll(t, fs, d))
}

func TestGetPartFallsBackToSlowAndWarmsFast(t *testing.T) {
	fast := memstore.New(0)
	slow := memstore.New(0)
	fs := New(fast, slow)

	d := updateString(t, slow, "only in slow")
	assert.False(t, fast.Has(d))

	assert.Equal(t, "only in slow", readAll(t, fs, d))

	require.Eventually(t, func() bool { return fast.Has(d) }, time.Second, 5*time.Millisecond)
}

func TestHasWithResultsFallsBackPerDigest(t *testing.T) {
	fast := memstore.New(0)
	slow := memstore.New(0)
	fs := New(fast, slow)

	inFast := updateString(t, fast, "fast-only")
	inSlow := updateString(t, slow, "slow-only")
	missing := digest.ComputeBytes([]byte("nowhere"))

	ctx := context.Background()
	results, err := fs.HasWithResults(ctx, []digest.Digest{inFast, inSlow, missing})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
	assert.False(t, results[1].Empty())
	assert.True(t, results[2].Empty())
}
