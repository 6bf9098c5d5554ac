// Package metrics implements store.Store as a decorator that times every
// Update/GetPart/HasWithResults call and reports it through a
// turbocachemetrics.StoreMetrics, the CAS/AC store-side counterpart to
// verify and existence: it adds observability without changing behavior,
// forwarding every call to Inner unmodified.
package metrics

import (
	"context"
	"time"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
	turbocachemetrics "github.com/marmos91/turbocache/pkg/metrics"
)

// Store wraps Inner, recording timing and byte-count metrics for every
// call. metrics may be nil (e.g. when the deployment didn't call
// turbocachemetrics.InitRegistry), in which case every recording call is a
// no-op.
type Store struct {
	inner   store.Store
	metrics turbocachemetrics.StoreMetrics
}

// New wraps inner, reporting through metrics (nil disables reporting).
func New(inner store.Store, metrics turbocachemetrics.StoreMetrics) *Store {
	return &Store{inner: inner, metrics: metrics}
}

func (s *Store) Kind() store.Kind   { return s.inner.Kind() }
func (s *Store) Inner() store.Store { return s.inner }

func (s *Store) OptimizedFor(opt store.Optimization) bool { return s.inner.OptimizedFor(opt) }

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	results, err := s.inner.HasWithResults(ctx, digests)
	if err != nil {
		return results, err
	}
	for _, d := range results {
		turbocachemetrics.RecordHasResult(s.metrics, d != (digest.Digest{}))
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	start := time.Now()
	err := s.inner.Update(ctx, d, reader, sizeHint)
	if err == nil {
		turbocachemetrics.ObserveUpdate(s.metrics, d.Size, time.Since(start))
	}
	return err
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	start := time.Now()
	err := s.inner.GetPart(ctx, d, writer, offset, length)
	if err == nil {
		bytes := length
		if bytes < 0 {
			bytes = d.Size - offset
		}
		turbocachemetrics.ObserveGetPart(s.metrics, bytes, time.Since(start))
	}
	return err
}
