// Package sizepartitioning implements store.Store by routing a digest to
// one of two inner stores based on its size: digests at or below Threshold
// go to Small, larger ones go to Large. This lets a deployment put tiny
// blobs (action results, small source files) in a cheap low-latency tier
// and large blobs (build artifacts) in a tier tuned for throughput,
// generalizing the teacher's registry-by-name store selection
// (`pkg/content/service.go`'s `stores map[string]ContentStore`) from a
// caller-supplied key to a size-derived one.
package sizepartitioning

import (
	"context"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Store routes Update/GetPart to Small or Large based on the digest's size.
type Store struct {
	threshold int64
	small     store.Store
	large     store.Store
}

// New builds a size-partitioning Store. Digests with Size <= threshold
// route to small; larger digests route to large.
func New(threshold int64, small, large store.Store) *Store {
	return &Store{threshold: threshold, small: small, large: large}
}

func (s *Store) Kind() store.Kind { return store.KindSizePartition }

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	return s.small.OptimizedFor(opt) && s.large.OptimizedFor(opt)
}

func (s *Store) route(d digest.Digest) store.Store {
	if d.Size <= s.threshold {
		return s.small
	}
	return s.large
}

// HasWithResults partitions the batch by size and queries each inner store
// once, to avoid the N-round-trip cost of routing digest-by-digest.
func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	results := make([]digest.Digest, len(digests))

	var smallIdx, largeIdx []int
	var smallDigests, largeDigests []digest.Digest
	for i, d := range digests {
		if d.Size <= s.threshold {
			smallIdx = append(smallIdx, i)
			smallDigests = append(smallDigests, d)
		} else {
			largeIdx = append(largeIdx, i)
			largeDigests = append(largeDigests, d)
		}
	}

	if len(smallDigests) > 0 {
		r, err := s.small.HasWithResults(ctx, smallDigests)
		if err != nil {
			return nil, rpcerr.Wrap(err, "size_partitioning: querying small tier")
		}
		for j, idx := range smallIdx {
			results[idx] = r[j]
		}
	}
	if len(largeDigests) > 0 {
		r, err := s.large.HasWithResults(ctx, largeDigests)
		if err != nil {
			return nil, rpcerr.Wrap(err, "size_partitioning: querying large tier")
		}
		for j, idx := range largeIdx {
			results[idx] = r[j]
		}
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	return s.route(d).Update(ctx, d, reader, sizeHint)
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	return s.route(d).GetPart(ctx, d, writer, offset, length)
}
