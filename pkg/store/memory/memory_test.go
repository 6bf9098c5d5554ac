package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
)

func updateString(t *testing.T, s *Store, data string) digest.Digest {
	t.Helper()
	d := digest.ComputeBytes([]byte(data))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p := bytestream.New(1024)
	go func() {
		p.Write(ctx, []byte(data))
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{ExactSize: int64(len(data)), HasExactSize: true}))
	return d
}

func TestUpdateThenGetPartRoundTrip(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	d := updateString(t, s, "hello world")

	out := bytestream.New(1024)
	done := make(chan error, 1)
	go func() { done <- s.GetPart(ctx, d, out, 0, -1) }()

	buf := make([]byte, 64)
	n, _ := out.Read(ctx, buf)
	require.NoError(t, <-done)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestHasWithResultsReportsMissAndHit(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	d := updateString(t, s, "payload")
	miss := digest.ComputeBytes([]byte("nope"))

	results, err := s.HasWithResults(ctx, []digest.Digest{d, miss})
	require.NoError(t, err)
	assert.False(t, results[0].Empty())
	assert.True(t, results[1].Empty())
}

func TestGetPartNotFound(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	missing := digest.ComputeBytes([]byte("absent"))

	out := bytestream.New(64)
	err := s.GetPart(ctx, missing, out, 0, -1)
	assert.Error(t, err)
}

func TestEvictionDropsOldestFirst(t *testing.T) {
	s := New(20)
	a := updateString(t, s, "0123456789") // 10 bytes
	time.Sleep(2 * time.Millisecond)
	updateString(t, s, "abcdefghij") // 10 bytes, total 20 triggers no evict yet
	time.Sleep(2 * time.Millisecond)
	updateString(t, s, "ZZZZZZZZZZ") // pushes over capacity, should evict `a`

	assert.False(t, s.Has(a))
}

func TestOptimizedForNoopDownloads(t *testing.T) {
	s := New(0)
	assert.True(t, s.OptimizedFor(store.OptimizedForNoopDownloads))
	assert.False(t, s.OptimizedFor(store.OptimizedForFileUpdates))
}
