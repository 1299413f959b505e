// Package hash provides blake3 content hashing for the content-addressable store:
// per-file hashes, order-sensitive combination of multiple hashes into one, and the
// short (8 hex char) form used to name store directories.
package hash

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const (
	// Size is the full hex-encoded hash length (32 bytes -> 64 hex chars).
	Size = 64
	// ShortSize is the length of the directory-naming short hash.
	ShortSize = 8
)

// Hash is a blake3 digest, stored as raw bytes; Hex renders it as lowercase hex.
type Hash [32]byte

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) Short() string { return h.Hex()[:ShortSize] }

// File hashes a file's contents with blake3, streaming so large shard outputs
// don't need to be read fully into memory.
func File(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Bytes hashes raw bytes with blake3.
func Bytes(data []byte) Hash {
	sum := blake3.Sum256(data)
	return Hash(sum)
}

// Combine hashes multiple hashes into one by hashing their concatenated bytes, in
// the order given. Order matters: Combine(a,b) != Combine(b,a) in general.
func Combine(hashes []Hash) Hash {
	h := blake3.New()
	for _, hh := range hashes {
		h.Write(hh[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Empty is the sentinel content hash for a stage with no output files
// (blake3("empty"), per the manifest file-hashes-empty rule).
func Empty() Hash { return Bytes([]byte("empty")) }
