// Package fastslow implements store.Store as a two-tier cache: reads and
// existence checks try Fast first and fall back to Slow, populating Fast
// on a slow-path hit; writes always go to Slow and are mirrored into Fast
// best-effort. This generalizes the teacher's cache-then-store fallback
// (check an in-memory/local cache first, fall through to the durable
// backend on a miss, and warm the cache from what the backend returned) to
// an arbitrary pair of Store implementations rather than one hardcoded
// cache type and one hardcoded content store.
package fastslow

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Store pairs a fast (typically memory) tier with a slow (typically
// filesystem or S3) tier of the same capability.
type Store struct {
	fast store.Store
	slow store.Store
}

// New builds a fast/slow Store. Neither argument may be nil.
func New(fast, slow store.Store) *Store {
	return &Store{fast: fast, slow: slow}
}

func (s *Store) Kind() store.Kind { return store.KindFastSlow }

func (s *Store) Inner() store.Store { return s.slow }

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	return s.fast.OptimizedFor(opt) || s.slow.OptimizedFor(opt)
}

// HasWithResults checks Fast first; any digest Fast misses is checked
// against Slow, mirroring the teacher's "cache miss falls through to the
// store" rule from the content service's read path.
func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	fastResults, err := s.fast.HasWithResults(ctx, digests)
	if err != nil {
		return nil, rpcerr.Wrap(err, "fast_slow: checking fast tier")
	}

	var missIdx []int
	var missDigests []digest.Digest
	for i, r := range fastResults {
		if r.Empty() {
			missIdx = append(missIdx, i)
			missDigests = append(missDigests, digests[i])
		}
	}
	if len(missDigests) == 0 {
		return fastResults, nil
	}

	slowResults, err := s.slow.HasWithResults(ctx, missDigests)
	if err != nil {
		return nil, rpcerr.Wrap(err, "fast_slow: checking slow tier")
	}
	for j, idx := range missIdx {
		fastResults[idx] = slowResults[j]
	}
	return fastResults, nil
}

// Update always writes through to Slow (the durable tier) and mirrors into
// Fast best-effort so an immediate subsequent read is served from the fast
// tier. A mirror failure is swallowed: Slow already has the durable copy,
// so the write as a whole has succeeded.
func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	// Tee the incoming stream to both tiers: the fast tier gets a copy
	// concurrently with the slow tier's write, so a large upload is not
	// serialized across two full passes.
	fastPipe := bytestream.New(0)
	slowPipe := bytestream.New(0)

	teeErrCh := make(chan error, 1)
	go func() {
		teeErrCh <- teeInto(ctx, reader, fastPipe, slowPipe)
	}()

	fastErrCh := make(chan error, 1)
	go func() {
		fastErrCh <- s.fast.Update(ctx, d, fastPipe, sizeHint)
	}()

	slowErr := s.slow.Update(ctx, d, slowPipe, sizeHint)
	fastErr := <-fastErrCh
	teeErr := <-teeErrCh

	if slowErr != nil {
		return rpcerr.Wrap(slowErr, "fast_slow: writing slow tier for %s", d)
	}
	if teeErr != nil {
		return rpcerr.Wrap(teeErr, "fast_slow: reading source stream for %s", d)
	}
	// fastErr is intentionally not surfaced: a mirror failure does not
	// invalidate a successful durable write.
	_ = fastErr
	return nil
}

// GetPart tries Fast first; on a miss it reads from Slow and warms Fast
// with the full blob in the background, matching the teacher's "populate
// cache from a READ" behavior.
func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	hasFast, _, err := store.HasSingle(ctx, s.fast, d)
	if err != nil {
		return rpcerr.Wrap(err, "fast_slow: checking fast tier for %s", d)
	}
	if hasFast {
		return s.fast.GetPart(ctx, d, writer, offset, length)
	}

	if err := s.slow.GetPart(ctx, d, writer, offset, length); err != nil {
		return rpcerr.Wrap(err, "fast_slow: reading slow tier for %s", d)
	}

	go s.warmFast(d)
	return nil
}

// warmFast pulls the full blob from Slow into Fast after a slow-path read,
// run in the background so it never delays the caller's GetPart response.
func (s *Store) warmFast(d digest.Digest) {
	ctx := context.Background()
	slowPipe := bytestream.New(0)
	fastPipe := bytestream.New(0)

	go func() {
		_ = s.slow.GetPart(ctx, d, slowPipe, 0, -1)
	}()
	go func() {
		_, _ = slowPipe.CopyTo(ctx, pipeWriter{ctx: ctx, pipe: fastPipe})
		fastPipe.CloseWrite(nil)
	}()
	_ = s.fast.Update(ctx, d, fastPipe, store.UploadSizeInfo{})
}

type pipeWriter struct {
	ctx  context.Context
	pipe *bytestream.Pipe
}

func (w pipeWriter) Write(p []byte) (int, error) { return w.pipe.Write(w.ctx, p) }

// teeInto copies src into both a and b until src is exhausted, closing both
// with the terminal error (nil on success).
func teeInto(ctx context.Context, src *bytestream.Pipe, a, b *bytestream.Pipe) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(ctx, buf)
		if n > 0 {
			if _, werr := a.Write(ctx, buf[:n]); werr != nil {
				a.CloseWrite(werr)
				b.CloseWrite(werr)
				return werr
			}
			if _, werr := b.Write(ctx, buf[:n]); werr != nil {
				a.CloseWrite(werr)
				b.CloseWrite(werr)
				return werr
			}
		}
		if err != nil {
			var closeErr error
			if !isEOF(err) {
				closeErr = err
			}
			a.CloseWrite(closeErr)
			b.CloseWrite(closeErr)
			if isEOF(err) {
				return nil
			}
			return err
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
