// Package digest provides the content-fingerprint type shared by every store,
// scheduler, and worker component: a (hash, size) pair addressing a blob.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size of a SHA-256 digest in bytes.
const HashSize = sha256.Size

// Digest is a content fingerprint. Two digests are equal iff both their hash
// and size match; size is part of the identity so a truncated or extended
// blob never collides with the original under the same hash prefix.
type Digest struct {
	Hash [HashSize]byte
	Size int64

	// TrustSize indicates whether Size was derived from hashing the actual
	// bytes (true for CAS digests) or reported by a lookup that may not have
	// read the blob (AC-derived digests mark this false). Callers must not
	// use an untrusted size for allocation decisions.
	TrustSize bool
}

// New builds a Digest from a precomputed hash and size. TrustSize is true:
// the caller is expected to have derived size from the bytes it hashed.
func New(hash [HashSize]byte, size int64) Digest {
	return Digest{Hash: hash, Size: size, TrustSize: true}
}

// FromHex builds a Digest from a hex-encoded hash string and a size, as seen
// on the wire (REv2 resource names, ActionResult protos). TrustSize is false
// until the caller verifies the bytes.
func FromHex(hexHash string, size int64) (Digest, error) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: invalid hex hash %q: %w", hexHash, err)
	}
	if len(raw) != HashSize {
		return Digest{}, fmt.Errorf("digest: hash %q has %d bytes, want %d", hexHash, len(raw), HashSize)
	}
	var d Digest
	copy(d.Hash[:], raw)
	d.Size = size
	return d, nil
}

// Compute hashes r fully and returns the resulting Digest along with the
// number of bytes read. The digest is always trusted, since size is derived
// from the bytes actually hashed.
func Compute(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: hashing stream: %w", err)
	}
	var d Digest
	copy(d.Hash[:], h.Sum(nil))
	d.Size = n
	d.TrustSize = true
	return d, nil
}

// ComputeBytes is a convenience wrapper around Compute for in-memory data.
func ComputeBytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Hash: sum, Size: int64(len(data)), TrustSize: true}
}

// Empty reports whether d is the zero Digest (no hash, no size).
func (d Digest) Empty() bool {
	return d.Size == 0 && d.Hash == [HashSize]byte{}
}

// HashString returns the stable, lowercase hex encoding of the hash, with no
// size suffix. This is the form used as a map key and as half of a
// filesystem path component.
func (d Digest) HashString() string {
	return hex.EncodeToString(d.Hash[:])
}

// String renders the digest as "{hash}-{size}", matching the
// content_path/{hex_hash}-{size} filesystem naming convention and the common
// log-line representation used across the store decorators.
func (d Digest) String() string {
	return fmt.Sprintf("%s-%d", d.HashString(), d.Size)
}

// Equal reports whether d and other address the same blob. TrustSize is
// deliberately excluded from the comparison: it is provenance metadata, not
// part of the blob's identity.
func (d Digest) Equal(other Digest) bool {
	return d.Hash == other.Hash && d.Size == other.Size
}

// Key returns a value suitable for use as a map key that uniquely identifies
// this digest (hash and size, in a single comparable string).
func (d Digest) Key() string {
	return d.String()
}
