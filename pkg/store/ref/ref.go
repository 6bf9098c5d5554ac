// Package ref implements store.Store as an indirection: instead of holding
// a direct reference to another Store, it resolves one by name through a
// storemanager.Manager on every call. This lets a decorator chain be built
// from config before every named store in it exists yet (a common
// situation when two stores reference each other, e.g. a worker's local
// CAS referencing the scheduler's CAS by name) and lets an operator swap
// the resolved store at runtime by re-registering the name, without
// rebuilding the chain above it.
package ref

import (
	"context"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
	"github.com/marmos91/turbocache/pkg/storemanager"
)

// Store resolves Name through Manager on every operation rather than
// holding a direct reference.
type Store struct {
	manager *storemanager.Manager
	name    string
}

// New builds a Store that indirects to whatever is registered as name in
// manager at call time.
func New(manager *storemanager.Manager, name string) *Store {
	return &Store{manager: manager, name: name}
}

func (s *Store) Kind() store.Kind { return store.KindRef }

func (s *Store) resolve() (store.Store, error) {
	return s.manager.Get(s.name)
}

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	target, err := s.resolve()
	if err != nil {
		return false
	}
	return target.OptimizedFor(opt)
}

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	target, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return target.HasWithResults(ctx, digests)
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeHint store.UploadSizeInfo) error {
	target, err := s.resolve()
	if err != nil {
		return err
	}
	return target.Update(ctx, d, reader, sizeHint)
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	target, err := s.resolve()
	if err != nil {
		return err
	}
	return target.GetPart(ctx, d, writer, offset, length)
}
