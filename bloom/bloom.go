// Package bloom implements the fixed-size, double-hashing bloom filter used
// by one filter block per SSTable (spec.md §4.2). It never produces false
// negatives: every key inserted is guaranteed to test positive afterward.
package bloom

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

const (
	// M is the bit-array width. Chosen, per spec, so that the expected
	// false-positive rate at typical table occupancy is around 1%.
	M = 10000
	// K is the number of hash probes per key.
	K = 7
)

// ByteSize is the length of a filter's raw, unpadded byte-array encoding.
const ByteSize = (M + 7) / 8

// Filter is a fixed M-bit array tested with K double-hashed probes:
//
//	h_k(x) = (h1(x) + k*h2(x)) mod M
//
// h1 is murmur3's 128-bit hash (low 64 bits) and h2 is xxhash's 64-bit hash,
// mirroring the two independent hash functions the original implementation
// paired (murmur3_x86_128, xxh3_128).
type Filter struct {
	bits *bitset.BitSet
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{bits: bitset.New(M)}
}

func probes(key []byte) [K]uint {
	h1, _ := murmur3.Sum128(key)
	h2 := xxhash.Sum64(key)

	var out [K]uint
	for k := uint64(0); k < K; k++ {
		out[k] = uint((h1 + k*h2) % M)
	}
	return out
}

// Insert sets the K bits for the given user key.
func (f *Filter) Insert(userKey []byte) {
	for _, bit := range probes(userKey) {
		f.bits.Set(bit)
	}
}

// MaybeContain returns true if the filter may contain userKey. A false
// result is a guarantee of absence; a true result may be a false positive.
func (f *Filter) MaybeContain(userKey []byte) bool {
	for _, bit := range probes(userKey) {
		if !f.bits.Test(bit) {
			return false
		}
	}
	return true
}

// Encode serializes the filter to its fixed ByteSize raw bit-array form.
func (f *Filter) Encode() []byte {
	buf := make([]byte, ByteSize)
	bytes := f.bits.Bytes()
	for i, word := range bytes {
		base := i * 8
		for b := 0; b < 8 && base+b < ByteSize; b++ {
			buf[base+b] = byte(word >> (8 * uint(b)))
		}
	}
	return buf
}

// Decode reconstructs a filter from its raw bit-array encoding. buf must be
// at least ByteSize bytes; any padding beyond that is ignored.
func Decode(buf []byte) *Filter {
	bits := bitset.New(M)
	for i := 0; i < M; i++ {
		byteIdx := i / 8
		if byteIdx >= len(buf) {
			break
		}
		if buf[byteIdx]&(1<<uint(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	return &Filter{bits: bits}
}
