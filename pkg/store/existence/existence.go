// Package existence implements store.Store as a decorator caching the
// result of HasWithResults for a short TTL, so a scheduler issuing repeated
// find_missing_blobs-style checks against the same digests (common during
// a single build's input deduplication) does not hit Inner for every call.
// A positive result (digest exists) is cached longer than a negative one,
// since a negative result can flip true the moment a concurrent Update
// lands.
package existence

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
)

type cacheEntry struct {
	result  digest.Digest // zero Digest means "miss"
	expires time.Time
}

// Store wraps Inner with an existence-result cache.
type Store struct {
	inner     store.Store
	hitTTL    time.Duration
	missTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Options configures how long positive and negative existence results are
// cached before Inner is consulted again.
type Options struct {
	HitTTL  time.Duration
	MissTTL time.Duration
}

// New wraps inner with an existence cache. Zero TTLs default to 30s hits,
// 1s misses — short enough that a concurrent Update from another caller is
// visible quickly, long enough to absorb a burst of repeated lookups.
func New(inner store.Store, opts Options) *Store {
	if opts.HitTTL <= 0 {
		opts.HitTTL = 30 * time.Second
	}
	if opts.MissTTL <= 0 {
		opts.MissTTL = time.Second
	}
	return &Store{
		inner:   inner,
		hitTTL:  opts.HitTTL,
		missTTL: opts.MissTTL,
		cache:   make(map[string]cacheEntry),
	}
}

func (s *Store) Kind() store.Kind                         { return store.KindExistence }
func (s *Store) Inner() store.Store                       { return s.inner }
func (s *Store) OptimizedFor(opt store.Optimization) bool { return s.inner.OptimizedFor(opt) }

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	results := make([]digest.Digest, len(digests))

	var missIdx []int
	var missDigests []digest.Digest

	now := time.Now()
	s.mu.Lock()
	for i, d := range digests {
		if e, ok := s.cache[d.Key()]; ok && now.Before(e.expires) {
			results[i] = e.result
			continue
		}
		missIdx = append(missIdx, i)
		missDigests = append(missDigests, d)
	}
	s.mu.Unlock()

	if len(missDigests) == 0 {
		return results, nil
	}

	fetched, err := s.inner.HasWithResults(ctx, missDigests)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for j, idx := range missIdx {
		r := fetched[j]
		results[idx] = r
		ttl := s.missTTL
		if !r.Empty() {
			ttl = s.hitTTL
		}
		s.cache[digests[idx].Key()] = cacheEntry{result: r, expires: now.Add(ttl)}
	}
	s.mu.Unlock()

	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	if err := s.inner.Update(ctx, d, reader, sizeHint); err != nil {
		return err
	}
	// Invalidate any cached miss so the next HasWithResults observes the
	// write immediately instead of waiting out missTTL.
	s.mu.Lock()
	delete(s.cache, d.Key())
	s.mu.Unlock()
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	return s.inner.GetPart(ctx, d, writer, offset, length)
}
