// Package verify implements store.Store as a decorator that re-hashes
// every Update against its declared digest before forwarding to Inner,
// rejecting any upload whose bytes don't actually match, and (optionally)
// enforces the declared size as a hard ceiling while streaming so an
// oversized or truncated upload is caught before it is fully buffered.
package verify

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Store wraps Inner and verifies blob bytes against their digest on Update.
type Store struct {
	inner      store.Store
	verifySize bool
	verifyHash bool
}

// Options controls which aspects of an upload are verified.
type Options struct {
	// VerifySize rejects an upload whose actual byte count differs from
	// the declared digest size.
	VerifySize bool
	// VerifyHash rehashes the upload and rejects a mismatch against the
	// declared digest. More expensive than VerifySize but catches bit
	// corruption a size check alone would miss.
	VerifyHash bool
}

// New wraps inner with the requested verification checks.
func New(inner store.Store, opts Options) *Store {
	return &Store{inner: inner, verifySize: opts.VerifySize, verifyHash: opts.VerifyHash}
}

func (s *Store) Kind() store.Kind     { return store.KindVerify }
func (s *Store) Inner() store.Store   { return s.inner }
func (s *Store) OptimizedFor(opt store.Optimization) bool { return s.inner.OptimizedFor(opt) }

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	return s.inner.HasWithResults(ctx, digests)
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	if !s.verifySize && !s.verifyHash {
		return s.inner.Update(ctx, d, reader, sizeHint)
	}

	// Tee through a verifying pipe: bytes are hashed/counted as they pass,
	// and the terminal error (mismatch or the reader's own error) is what
	// Inner's Update ultimately observes.
	checked := bytestream.New(0)
	checkErrCh := make(chan error, 1)
	go func() {
		checkErrCh <- s.pipeAndVerify(ctx, d, reader, checked)
	}()

	innerErr := s.inner.Update(ctx, d, checked, sizeHint)
	checkErr := <-checkErrCh

	if checkErr != nil {
		return checkErr
	}
	if innerErr != nil {
		return rpcerr.Wrap(innerErr, "verify: forwarding update for %s", d)
	}
	return nil
}

func (s *Store) pipeAndVerify(ctx context.Context, d digest.Digest, src, dst *bytestream.Pipe) error {
	hasher := newVerifier(s.verifyHash)
	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(ctx, buf)
		if n > 0 {
			total += int64(n)
			if s.verifySize && total > d.Size {
				mismatch := rpcerr.InvalidArgument("verify: upload for %s exceeds declared size %d", d, d.Size)
				dst.CloseWrite(mismatch)
				return mismatch
			}
			hasher.write(buf[:n])
			if _, werr := dst.Write(ctx, buf[:n]); werr != nil {
				dst.CloseWrite(werr)
				return rpcerr.Wrap(werr, "verify: forwarding bytes for %s", d)
			}
		}
		if err != nil {
			if !isEOF(err) {
				dst.CloseWrite(err)
				return rpcerr.Wrap(err, "verify: reading source stream for %s", d)
			}
			break
		}
	}

	if s.verifySize && total != d.Size {
		mismatch := rpcerr.InvalidArgument("verify: upload for %s has size %d, want %d", d, total, d.Size)
		dst.CloseWrite(mismatch)
		return mismatch
	}
	if s.verifyHash {
		actual := hasher.sum()
		if actual != d.Hash {
			mismatch := rpcerr.InvalidArgument("verify: upload for %s hashes to a different digest", d)
			dst.CloseWrite(mismatch)
			return mismatch
		}
	}

	dst.CloseWrite(nil)
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	return s.inner.GetPart(ctx, d, writer, offset, length)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// verifier optionally hashes bytes as they stream past, so VerifyHash adds
// no extra buffering pass over the data.
type verifier struct {
	enabled bool
	h       [32]byte
	hasher  interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

func newVerifier(enabled bool) *verifier {
	v := &verifier{enabled: enabled}
	if enabled {
		v.hasher = sha256.New()
	}
	return v
}

func (v *verifier) write(p []byte) {
	if v.enabled {
		v.hasher.Write(p)
	}
}

func (v *verifier) sum() [32]byte {
	var out [32]byte
	if v.enabled {
		copy(out[:], v.hasher.Sum(nil))
	}
	return out
}
