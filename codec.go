package durablemap

import "encoding/binary"

// Codec encodes/decodes a Go value of type T into a fixed-width byte slot.
// This is the generalisation of the teacher's hard-coded []byte key/value
// slots: K and V are no longer required to be []byte, but every slot the map
// allocates for them is still a fixed Size() bytes, which is what lets entries
// live in a flat, directly-indexable mmap'd array.
type Codec[T any] interface {
	// Size is the fixed number of bytes Encode writes and Decode reads.
	Size() int
	// Encode writes v into dst, which is guaranteed to be exactly Size() bytes.
	Encode(v T, dst []byte)
	// Decode reads a T out of src, which is exactly Size() bytes.
	Decode(src []byte) T
}

// Uint64Codec encodes a uint64 key or value as 8 big-endian bytes, matching
// the byte order the teacher's own example and benchmarks already use for
// numeric keys.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(v uint64, dst []byte) {
	binary.BigEndian.PutUint64(dst, v)
}

func (Uint64Codec) Decode(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// FixedBytesCodec encodes a []byte key or value that must be exactly n bytes
// long. This is the direct generalisation of the teacher's keySize/valueSize
// constructor parameters: Open(path, keySize, valueSize) becomes
// OpenBytes(path, keySize, valueSize), backed by two of these codecs.
type FixedBytesCodec struct{ N int }

func (c FixedBytesCodec) Size() int { return c.N }

func (c FixedBytesCodec) Encode(v []byte, dst []byte) {
	copy(dst, v)
	for i := len(v); i < len(dst); i++ {
		dst[i] = 0
	}
}

func (c FixedBytesCodec) Decode(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// FixedStringCodec encodes a string into exactly N bytes, zero-padded on
// encode and trimmed of trailing zero bytes on decode. Strings containing
// embedded NUL bytes are not representable round-trip; use FixedBytesCodec
// for binary-safe keys.
type FixedStringCodec struct{ N int }

func (c FixedStringCodec) Size() int { return c.N }

func (c FixedStringCodec) Encode(v string, dst []byte) {
	n := copy(dst, v)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func (c FixedStringCodec) Decode(src []byte) string {
	end := len(src)
	for end > 0 && src[end-1] == 0 {
		end--
	}
	return string(src[:end])
}
