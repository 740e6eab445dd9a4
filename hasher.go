package durablemap

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// KeyHasher is the pluggable hash/equality strategy for a Map's key type. Hash
// need only return a well-distributed uint32; the map itself masks it to 31
// bits (hashCode is stored as a signed int32 with -1 reserved to mark a free
// slot, see header.go) before using it as a chain/bucket identifier.
type KeyHasher[K any] interface {
	Hash(key K) uint32
	Equal(a, b K) bool
}

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnv1a is the exact hash the teacher's hashKey computed, kept verbatim as
// the default hash for the fixed uint64 fast path - it is fast, dependency
// free, and the distribution this map's generational chaining was validated
// against in the original.
func fnv1a(b []byte) uint32 {
	h := uint32(fnvOffset32)
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime32
	}
	return h
}

// Uint64Hasher hashes a uint64 key with the teacher's FNV-1a algorithm over
// its big-endian encoding.
type Uint64Hasher struct{}

func (Uint64Hasher) Hash(key uint64) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return fnv1a(buf[:])
}

func (Uint64Hasher) Equal(a, b uint64) bool { return a == b }

// BytesHasher hashes a []byte key with xxhash, folding the 64-bit digest down
// to 32 bits. xxhash is substantially faster than FNV-1a on keys longer than a
// few bytes and is already a dependency this module's teacher declared (if
// never called) - this is the general-purpose hasher that gives it an actual
// call site.
type BytesHasher struct{}

func (BytesHasher) Hash(key []byte) uint32 {
	sum := xxhash.Sum64(key)
	return uint32(sum ^ (sum >> 32))
}

func (BytesHasher) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

// StringHasher is BytesHasher's string counterpart.
type StringHasher struct{}

func (StringHasher) Hash(key string) uint32 {
	sum := xxhash.Sum64String(key)
	return uint32(sum ^ (sum >> 32))
}

func (StringHasher) Equal(a, b string) bool { return a == b }
