// Package compression implements store.Store as an LZ4-framing decorator:
// Update compresses the incoming stream before forwarding to Inner, and
// GetPart decompresses Inner's bytes before handing them to the caller.
// Blobs are stored compressed under their original (uncompressed) digest,
// so the rest of the store chain never needs to know compression is
// happening.
package compression

import (
	"context"
	"errors"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Store wraps Inner, storing every blob LZ4-compressed.
type Store struct {
	inner store.Store
}

// New wraps inner with LZ4 compression.
func New(inner store.Store) *Store {
	return &Store{inner: inner}
}

func (s *Store) Kind() store.Kind     { return store.KindCompression }
func (s *Store) Inner() store.Store   { return s.inner }
func (s *Store) OptimizedFor(store.Optimization) bool { return false } // compression forces a copy either direction

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	// Inner reports compressed sizes; the caller only cares about presence
	// and the original digest identity, which HasWithResults already keys
	// on, so results are passed through unmodified except the size field
	// the caller should not rely on here (compressed size != digest.Size).
	results, err := s.inner.HasWithResults(ctx, digests)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		if !r.Empty() {
			// Report the caller's own requested (uncompressed) size back,
			// since inner's reported size is the on-disk compressed size.
			results[i] = digest.New(r.Hash, digests[i].Size)
		}
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, _ store.UploadSizeInfo) error {
	compressed := bytestream.New(0)

	compressErrCh := make(chan error, 1)
	go func() {
		compressErrCh <- compressInto(ctx, reader, compressed)
	}()

	innerErr := s.inner.Update(ctx, d, compressed, store.UploadSizeInfo{})
	compressErr := <-compressErrCh

	if compressErr != nil {
		return rpcerr.Wrap(compressErr, "compression: compressing upload for %s", d)
	}
	if innerErr != nil {
		return rpcerr.Wrap(innerErr, "compression: forwarding compressed upload for %s", d)
	}
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	// LZ4 frames aren't seekable without a full decompress pass, so
	// partial reads decompress the whole blob and slice the result; this
	// store is intended for blobs small enough that this is acceptable
	// (the decorator chain typically puts SizePartitioningStore above
	// compression so only small blobs reach here).
	full := bytestream.New(0)
	fetchErrCh := make(chan error, 1)
	go func() {
		fetchErrCh <- s.inner.GetPart(ctx, d, full, 0, -1)
	}()

	decompressed := bytestream.New(0)
	decompressErrCh := make(chan error, 1)
	go func() {
		decompressErrCh <- decompressInto(ctx, full, decompressed)
	}()

	if err := <-fetchErrCh; err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "compression: fetching compressed blob for %s", d)
	}
	if err := <-decompressErrCh; err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "compression: decompressing blob for %s", d)
	}

	return sliceInto(ctx, decompressed, writer, offset, length)
}

func compressInto(ctx context.Context, src, dst *bytestream.Pipe) error {
	zw := lz4.NewWriter(pipeWriter{ctx: ctx, pipe: dst})
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(ctx, buf)
		if n > 0 {
			if _, werr := zw.Write(buf[:n]); werr != nil {
				dst.CloseWrite(werr)
				return werr
			}
		}
		if err != nil {
			if !isEOF(err) {
				dst.CloseWrite(err)
				return err
			}
			break
		}
	}
	if err := zw.Close(); err != nil {
		dst.CloseWrite(err)
		return err
	}
	dst.CloseWrite(nil)
	return nil
}

func decompressInto(ctx context.Context, src, dst *bytestream.Pipe) error {
	zr := lz4.NewReader(pipeReader{ctx: ctx, pipe: src})
	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(ctx, buf[:n]); werr != nil {
				dst.CloseWrite(werr)
				return werr
			}
		}
		if err != nil {
			if !isEOF(err) {
				dst.CloseWrite(err)
				return err
			}
			break
		}
	}
	dst.CloseWrite(nil)
	return nil
}

// sliceInto copies [offset, offset+length) from src into dst.
func sliceInto(ctx context.Context, src, dst *bytestream.Pipe, offset, length int64) error {
	buf := make([]byte, 32*1024)
	var pos int64
	var written int64
	for {
		n, err := src.Read(ctx, buf)
		if n > 0 {
			chunkStart := pos
			chunkEnd := pos + int64(n)
			pos = chunkEnd

			lo := offset
			hi := int64(-1)
			if length >= 0 {
				hi = offset + length
			}
			if chunkEnd > lo && (hi < 0 || chunkStart < hi) {
				from := int64(0)
				if lo > chunkStart {
					from = lo - chunkStart
				}
				to := int64(n)
				if hi >= 0 && hi < chunkEnd {
					to = hi - chunkStart
				}
				if from < to {
					if _, werr := dst.Write(ctx, buf[from:to]); werr != nil {
						dst.CloseWrite(werr)
						return werr
					}
					written += to - from
				}
			}
		}
		if err != nil {
			if !isEOF(err) {
				dst.CloseWrite(err)
				return err
			}
			break
		}
	}
	dst.CloseWrite(nil)
	return nil
}

type pipeWriter struct {
	ctx  context.Context
	pipe *bytestream.Pipe
}

func (w pipeWriter) Write(p []byte) (int, error) { return w.pipe.Write(w.ctx, p) }

type pipeReader struct {
	ctx  context.Context
	pipe *bytestream.Pipe
}

func (r pipeReader) Read(p []byte) (int, error) { return r.pipe.Read(r.ctx, p) }

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
