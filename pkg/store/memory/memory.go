// Package memory implements store.Store entirely in RAM. It is used for
// small, hot items (typically the fast side of a FastSlowStore, or as a
// small standalone CAS in tests) and supports an optional size-bounded LRU
// eviction, generalized from the teacher's buffering cache.
package memory

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

type entry struct {
	mu         sync.Mutex
	data       []byte
	lastAccess time.Time
}

// Store is an in-memory store.Store. The zero value is not usable; use New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	maxSize   int64 // 0 = unbounded
	totalSize atomic.Int64
}

// New creates a memory Store with an optional maximum total size in bytes.
// maxSize <= 0 disables eviction.
func New(maxSize int64) *Store {
	return &Store{
		entries: make(map[string]*entry),
		maxSize: maxSize,
	}
}

func (s *Store) Kind() store.Kind { return store.KindMemory }

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	return opt == store.OptimizedForNoopDownloads
}

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]digest.Digest, len(digests))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, d := range digests {
		if e, ok := s.entries[d.Key()]; ok {
			e.mu.Lock()
			results[i] = digest.New(d.Hash, int64(len(e.data)))
			e.mu.Unlock()
		}
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return rpcerr.FailedPrecondition("memory store: closed")
	}
	s.mu.RUnlock()

	capacityHint := 0
	if sizeHint.HasExactSize && sizeHint.ExactSize > 0 {
		capacityHint = int(sizeHint.ExactSize)
	}
	buf := make([]byte, 0, capacityHint)
	chunk := make([]byte, 32*1024)
	for {
		n, err := reader.Read(ctx, chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rpcerr.Wrap(err, "memory store: reading update stream for %s", d)
		}
	}

	e := &entry{data: buf, lastAccess: time.Now()}

	s.mu.Lock()
	prev, existed := s.entries[d.Key()]
	s.entries[d.Key()] = e
	s.mu.Unlock()

	var delta int64 = int64(len(buf))
	if existed {
		prev.mu.Lock()
		delta -= int64(len(prev.data))
		prev.mu.Unlock()
	}
	s.totalSize.Add(delta)

	s.evictIfNeeded()
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	s.mu.RLock()
	e, ok := s.entries[d.Key()]
	s.mu.RUnlock()
	if !ok {
		writer.CloseWrite(rpcerr.NotFound("memory store: digest %s not found", d))
		return rpcerr.NotFound("memory store: digest %s not found", d)
	}

	e.mu.Lock()
	data := e.data
	e.lastAccess = time.Now()
	e.mu.Unlock()

	if offset < 0 || offset > int64(len(data)) {
		err := rpcerr.InvalidArgument("memory store: offset %d out of range for %s (size %d)", offset, d, len(data))
		writer.CloseWrite(err)
		return err
	}

	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	if _, err := writer.Write(ctx, data[offset:end]); err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "memory store: writing part for %s", d)
	}
	writer.CloseWrite(nil)
	return nil
}

// Has reports a cheap synchronous existence check without going through the
// batch HasWithResults path, used by decorators that only need a boolean.
func (s *Store) Has(d digest.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[d.Key()]
	return ok
}

// Remove deletes a single entry, used by eviction and explicit invalidation.
func (s *Store) Remove(d digest.Digest) {
	s.mu.Lock()
	e, ok := s.entries[d.Key()]
	if ok {
		delete(s.entries, d.Key())
	}
	s.mu.Unlock()
	if ok {
		e.mu.Lock()
		freed := int64(len(e.data))
		e.mu.Unlock()
		s.totalSize.Add(-freed)
	}
}

// TotalSize returns the current total size of all stored entries in bytes.
func (s *Store) TotalSize() int64 { return s.totalSize.Load() }

// Close releases all buffered data.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.totalSize.Store(0)
}

// evictIfNeeded runs LRU eviction down to 90% of maxSize, mirroring the
// hysteresis used by the teacher's buffering cache to avoid eviction
// thrashing on back-to-back writes near the limit.
func (s *Store) evictIfNeeded() {
	if s.maxSize <= 0 {
		return
	}
	if s.totalSize.Load() <= s.maxSize {
		return
	}
	target := (s.maxSize * 90) / 100

	type candidate struct {
		key        string
		size       int64
		lastAccess time.Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]candidate, 0, len(s.entries))
	for key, e := range s.entries {
		e.mu.Lock()
		candidates = append(candidates, candidate{key: key, size: int64(len(e.data)), lastAccess: e.lastAccess})
		e.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastAccess.Before(candidates[j].lastAccess) })

	current := s.totalSize.Load()
	for _, c := range candidates {
		if current <= target {
			break
		}
		delete(s.entries, c.key)
		current -= c.size
		s.totalSize.Add(-c.size)
	}
}
