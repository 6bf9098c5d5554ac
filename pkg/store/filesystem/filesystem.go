// Package filesystem implements store.Store on local disk: blobs are
// content-addressed files named by hex hash under a configured root,
// written via a temp-file-then-rename publish so a reader never observes a
// partially written blob, with an optional badger-backed index tracking
// last-access time for digest eviction bookkeeping without a directory walk
// on every startup.
package filesystem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Store is a filesystem-backed store.Store.
type Store struct {
	root    string
	atimeDB *badger.DB // nil if no atime index was configured
}

// Options configures a filesystem Store.
type Options struct {
	// Root is the directory blobs are stored under. Created if missing.
	Root string

	// AtimeIndexPath, if non-empty, opens a badger database at this path to
	// record last-access timestamps per digest, so an eviction policy can
	// rank candidates without stat()-ing every file in Root.
	AtimeIndexPath string
}

// New creates a filesystem Store rooted at opts.Root.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, rpcerr.InvalidArgument("filesystem store: Root is required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, rpcerr.Wrap(err, "filesystem store: creating root %s", opts.Root)
	}

	s := &Store{root: opts.Root}

	if opts.AtimeIndexPath != "" {
		db, err := badger.Open(badger.DefaultOptions(opts.AtimeIndexPath).WithLogger(nil))
		if err != nil {
			return nil, rpcerr.Wrap(err, "filesystem store: opening atime index at %s", opts.AtimeIndexPath)
		}
		s.atimeDB = db
	}

	return s, nil
}

func (s *Store) Kind() store.Kind { return store.KindFilesystem }

func (s *Store) OptimizedFor(opt store.Optimization) bool {
	return opt == store.OptimizedForFileUpdates
}

// Close releases the atime index, if one was opened.
func (s *Store) Close() error {
	if s.atimeDB == nil {
		return nil
	}
	return s.atimeDB.Close()
}

func (s *Store) path(d digest.Digest) string {
	hex := d.HashString()
	// Two-level fan-out (first 2 + next 2 hex chars) keeps any single
	// directory from accumulating millions of entries.
	return filepath.Join(s.root, hex[0:2], hex[2:4], d.String())
}

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]digest.Digest, len(digests))
	for i, d := range digests {
		if info, err := os.Stat(s.path(d)); err == nil {
			results[i] = digest.New(d.Hash, info.Size())
			s.recordAccess(d)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, rpcerr.Wrap(err, "filesystem store: stat %s", d)
		}
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, _ store.UploadSizeInfo) error {
	target := s.path(d)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return rpcerr.Wrap(err, "filesystem store: creating parent dir for %s", d)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return rpcerr.Wrap(err, "filesystem store: creating temp file for %s", d)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := reader.CopyTo(ctx, tmp); err != nil {
		tmp.Close()
		return rpcerr.Wrap(err, "filesystem store: writing temp file for %s", d)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rpcerr.Wrap(err, "filesystem store: syncing temp file for %s", d)
	}
	if err := tmp.Close(); err != nil {
		return rpcerr.Wrap(err, "filesystem store: closing temp file for %s", d)
	}

	// Atomic publish: the blob either doesn't exist or is fully written,
	// never a partial write, because rename is atomic within a filesystem.
	if err := os.Rename(tmpPath, target); err != nil {
		return rpcerr.Wrap(err, "filesystem store: publishing %s", d)
	}

	s.recordAccess(d)
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	f, err := os.Open(s.path(d))
	if err != nil {
		wrapped := rpcerr.NotFound("filesystem store: digest %s not found", d)
		if !errors.Is(err, os.ErrNotExist) {
			wrapped = rpcerr.Wrap(err, "filesystem store: opening %s", d)
		}
		writer.CloseWrite(wrapped)
		return wrapped
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			wrapped := rpcerr.Wrap(err, "filesystem store: seeking %s", d)
			writer.CloseWrite(wrapped)
			return wrapped
		}
	}

	var src io.Reader = f
	if length >= 0 {
		src = io.LimitReader(f, length)
	}

	if _, err := io.Copy(limitedWriter{ctx: ctx, pipe: writer}, src); err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "filesystem store: streaming %s", d)
	}
	writer.CloseWrite(nil)
	s.recordAccess(d)
	return nil
}

// limitedWriter adapts a bytestream.Pipe to io.Writer for io.Copy.
type limitedWriter struct {
	ctx  context.Context
	pipe *bytestream.Pipe
}

func (w limitedWriter) Write(p []byte) (int, error) {
	return w.pipe.Write(w.ctx, p)
}

// recordAccess updates the atime index, if configured. Failures are
// swallowed: the index is a best-effort optimization for eviction ranking,
// never load-bearing for correctness.
func (s *Store) recordAccess(d digest.Digest) {
	if s.atimeDB == nil {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().Unix()))
	_ = s.atimeDB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(d.Key()), buf[:])
	})
}

// LastAccess returns the last recorded access time for d, or the zero time
// if no atime index is configured or the digest has never been accessed.
func (s *Store) LastAccess(d digest.Digest) time.Time {
	if s.atimeDB == nil {
		return time.Time{}
	}
	var t time.Time
	_ = s.atimeDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(d.Key()))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt atime entry")
			}
			t = time.Unix(int64(binary.BigEndian.Uint64(val)), 0)
			return nil
		})
	})
	return t
}

// Remove deletes the on-disk blob and its atime index entry for d.
// Idempotent: removing a non-existent digest succeeds.
func (s *Store) Remove(d digest.Digest) error {
	if err := os.Remove(s.path(d)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return rpcerr.Wrap(err, "filesystem store: removing %s", d)
	}
	if s.atimeDB != nil {
		_ = s.atimeDB.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(d.Key()))
		})
	}
	return nil
}
