package compression

import (
	"bytes"
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

func TestUpdateThenGetPartRoundTrip(t *testing.T) {
	inner := memstore.New(0)
	s := New(inner)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("compress me please "), 200)
	d := digest.ComputeBytes(payload)

	p := bytestream.New(4096)
	go func() {
		p.Write(ctx, payload)
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{}))

	// Stored bytes in inner should actually be compressed (smaller).
	assert.True(t, inner.TotalSize() < int64(len(payload)))

	out := bytestream.New(4096)
	done := make(chan error, 1)
	go func() { done <- s.GetPart(ctx, d, out, 0, -1) }()

	var buf bytes.Buffer
	_, rerr := out.CopyTo(ctx, &buf)
	require.NoError(t, rerr)
	require.NoError(t, <-done)
	assert.Equal(t, payload, buf.Bytes())
}

func TestGetPartSlicesDecompressedRange(t *testing.T) {
	inner := memstore.New(0)
	s := New(inner)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("0123456789abcdefghij")
	d := digest.ComputeBytes(payload)

	p := bytestream.New(256)
	go func() {
		p.Write(ctx, payload)
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{}))

	out := bytestream.New(256)
	done := make(chan error, 1)
	go func() { done <- s.GetPart(ctx, d, out, 5, 5) }()

	var buf bytes.Buffer
	_, rerr := out.CopyTo(ctx, &buf)
	require.NoError(t, rerr)
	require.NoError(t, <-done)
	assert.Equal(t, "56789", buf.String())
}
