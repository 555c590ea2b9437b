// Package bloom provides a probabilistic membership filter used for
// file-level value pruning in columnar files.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter: no false negatives, tunable false positive rate.
// A filter under construction is written by one goroutine; once serialized
// into a file it is only ever queried.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter sized for the expected number of items and target
// false positive rate.
func New(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := optimalParameters(expectedItems, targetFPR)
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// optimalParameters computes bits and hash counts from the standard formulas
// m = -n*ln(p)/ln(2)^2 and k = (m/n)*ln(2).
func optimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(k))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records an item in the filter.
func (f *Filter) Add(item []byte) {
	h1, h2 := f.hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// AddString records a string item in the filter.
func (f *Filter) AddString(item string) {
	f.Add([]byte(item))
}

// Contains reports whether an item might be in the filter. False means the
// item was definitely never added.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := f.hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// ContainsString reports whether a string item might be in the filter.
func (f *Filter) ContainsString(item string) bool {
	return f.Contains([]byte(item))
}

// Count returns the number of items added.
func (f *Filter) Count() uint64 {
	return f.count
}

// hash128 produces two independent 64-bit hashes via murmur3.
func (f *Filter) hash128(item []byte) (uint64, uint64) {
	return murmur3.Sum128(item)
}

// Serialize encodes the filter as:
// numBits, numHashes, count (uint64 little-endian), then the bit array.
func (f *Filter) Serialize() []byte {
	buf := make([]byte, 24+len(f.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], f.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], f.count)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(buf[24+i*8:], word)
	}
	return buf
}

// Deserialize decodes a filter produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("bloom: serialized filter too short (%d bytes)", len(data))
	}

	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])

	numWords := int(numBits / 64)
	if len(data) != 24+numWords*8 {
		return nil, fmt.Errorf("bloom: serialized filter has %d bytes, want %d", len(data), 24+numWords*8)
	}
	if numHashes == 0 || numHashes > 64 {
		return nil, fmt.Errorf("bloom: invalid hash count %d", numHashes)
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[24+i*8:])
	}

	return &Filter{
		bits:      bits,
		numBits:   numBits,
		numHashes: numHashes,
		count:     count,
	}, nil
}
