// Package store defines the Store contract every CAS/AC backend and every
// decorator (memory, filesystem, fast/slow, size-partitioning, dedup,
// compression, verify, existence, ref, S3, gRPC passthrough) implements.
//
// A Store is addressed by digest.Digest and supports three operations:
// checking existence (with result digests, for batch lookups), streaming an
// update in, and streaming a part of a blob out. Every operation is
// context-aware and every streaming operation goes through a
// bytestream.Pipe so back-pressure is uniform across backends.
package store

import (
	"context"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
)

// UploadSizeInfo tells Update how large the incoming blob is, so
// implementations that need to pre-allocate (a fixed buffer, an S3
// multipart session) can do so without buffering the whole blob in memory
// first.
type UploadSizeInfo struct {
	// ExactSize is the exact number of bytes that will be written, when
	// known (true for CAS uploads where the digest was computed from the
	// bytes). Ignored if HasExactSize is false.
	ExactSize    int64
	HasExactSize bool

	// MaxSize bounds the upload when ExactSize is not known (true for AC
	// insertions echoing an untrusted digest). Implementations must treat
	// this as a ceiling, not an allocation hint.
	MaxSize int64
}

// Kind identifies a store implementation for logging, metrics, and the
// InnerStore capability-downcast helpers below.
type Kind string

const (
	KindMemory          Kind = "memory"
	KindFilesystem      Kind = "filesystem"
	KindFastSlow        Kind = "fast_slow"
	KindSizePartition   Kind = "size_partitioning"
	KindDedup           Kind = "dedup"
	KindCompression     Kind = "compression"
	KindVerify          Kind = "verify"
	KindExistence       Kind = "existence_cache"
	KindRef             Kind = "ref"
	KindS3              Kind = "s3"
	KindGRPC            Kind = "grpc"
)

// Optimization describes a capability a Store may advertise so a caller
// (typically another decorator) can skip unnecessary work.
type Optimization int

const (
	// OptimizedForFileUpdates means Update accepts an *os.File-backed
	// source efficiently (e.g. can hardlink/rename instead of copying).
	OptimizedForFileUpdates Optimization = iota
	// OptimizedForNoopUpdates means Update is a cheap no-op when the
	// digest already exists (the store itself de-duplicates internally).
	OptimizedForNoopUpdates
	// OptimizedForNoopDownloads means GetPart can serve directly from a
	// backing medium without recopying into the pipe (e.g. sendfile-style
	// paths); callers may skip an intermediate buffering layer.
	OptimizedForNoopDownloads
)

// Store is the uniform contract every CAS/AC backend and decorator
// implements.
type Store interface {
	// Kind identifies the concrete implementation.
	Kind() Kind

	// HasWithResults checks existence for a batch of digests in one call,
	// returning the digest as actually stored for each hit (the AC lookup
	// path relies on this to report trusted sizes) and a zero Digest for
	// each miss. The returned slice has the same length and order as
	// digests.
	HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error)

	// Update streams a blob into the store under the given digest. sizeHint
	// lets backends that need to pre-size a buffer or multipart session do
	// so; reader is drained until EOF or ctx is canceled.
	Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint UploadSizeInfo) error

	// GetPart streams [offset, offset+length) of the blob addressed by d
	// into writer. length < 0 means "to the end of the blob". Returns
	// rpcerr.NotFound if d is not present.
	GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error

	// OptimizedFor reports whether this store (or one of its inner stores,
	// for decorators) advertises opt.
	OptimizedFor(opt Optimization) bool
}

// InnerStore is implemented by decorators that wrap exactly one other
// Store, letting callers walk the decorator chain to find a store of a
// given Kind (see Unwrap).
type InnerStore interface {
	Inner() Store
}

// Unwrap walks s's InnerStore chain until it finds a Store whose Kind
// equals kind, or returns nil if none matches.
func Unwrap(s Store, kind Kind) Store {
	for s != nil {
		if s.Kind() == kind {
			return s
		}
		inner, ok := s.(InnerStore)
		if !ok {
			return nil
		}
		s = inner.Inner()
	}
	return nil
}

// HasSingle is a convenience wrapper around HasWithResults for the common
// single-digest existence check.
func HasSingle(ctx context.Context, s Store, d digest.Digest) (bool, digest.Digest, error) {
	results, err := s.HasWithResults(ctx, []digest.Digest{d})
	if err != nil {
		return false, digest.Digest{}, err
	}
	if len(results) == 0 || results[0].Empty() {
		return false, digest.Digest{}, nil
	}
	return true, results[0], nil
}
