package gang

import (
	"math/bits"

	"github.com/clustercore/batchcore/api"
)

// Bitmap is a fixed-size bit vector over the resource model's bit domain
// (nodes or sockets, per Granularity), backed by a slice of uint64 words.
// It mirrors SLURM's bitstr_t as used by gang.c, scaled down to the one
// operation set the scheduler needs: AND, OR, popcount, bit test/set and
// rank.
type Bitmap struct {
	bits []uint64
	size int
}

// NewBitmap allocates a zeroed Bitmap over size bits.
func NewBitmap(size int) *Bitmap {
	return &Bitmap{bits: make([]uint64, (size+63)/64), size: size}
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() int { return b.size }

// Set sets bit i.
func (b *Bitmap) Set(i int) { b.bits[i/64] |= 1 << uint(i%64) }

// Clear clears bit i.
func (b *Bitmap) Clear(i int) { b.bits[i/64] &^= 1 << uint(i%64) }

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool { return b.bits[i/64]&(1<<uint(i%64)) != 0 }

// Clone returns an independent copy.
func (b *Bitmap) Clone() *Bitmap {
	out := &Bitmap{bits: make([]uint64, len(b.bits)), size: b.size}
	copy(out.bits, b.bits)
	return out
}

// CopyFrom overwrites the receiver's bits with src's. Both must have the
// same Size; a mismatch means the resource model drifted out from under
// a job's already-computed resmap (spec.md §7's bitmap-size-drift case).
func (b *Bitmap) CopyFrom(src *Bitmap) {
	api.Invariantf(b.size == src.size, "gang: bitmap size mismatch on copy: %d vs %d", b.size, src.size)
	copy(b.bits, src.bits)
}

// Or destructively ORs src into the receiver.
func (b *Bitmap) Or(src *Bitmap) {
	api.Invariantf(b.size == src.size, "gang: bitmap size mismatch on or: %d vs %d", b.size, src.size)
	for i := range b.bits {
		b.bits[i] |= src.bits[i]
	}
}

// And returns a new Bitmap holding the receiver AND other, without
// modifying either operand (used to compute gang.c's "conflict" set).
func (b *Bitmap) And(other *Bitmap) *Bitmap {
	api.Invariantf(b.size == other.size, "gang: bitmap size mismatch on and: %d vs %d", b.size, other.size)
	out := NewBitmap(b.size)
	for i := range b.bits {
		out.bits[i] = b.bits[i] & other.bits[i]
	}
	return out
}

// PopCount returns the number of set bits.
func (b *Bitmap) PopCount() int {
	n := 0
	for _, w := range b.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// SetBits returns the indices of every set bit, ascending.
func (b *Bitmap) SetBits() []int {
	out := make([]int, 0, b.PopCount())
	for i := 0; i < b.size; i++ {
		if b.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// RankOf returns the number of set bits in the receiver at positions
// strictly less than i (gang.c's rank_of, used to index alloc_cpus by
// the rank of a job's resmap bit rather than its absolute position).
func (b *Bitmap) RankOf(i int) int {
	rank := 0
	for j := 0; j < i; j++ {
		if b.Test(j) {
			rank++
		}
	}
	return rank
}

// Equal reports whether two bitmaps of equal size have identical bits.
func (b *Bitmap) Equal(other *Bitmap) bool {
	if b.size != other.size {
		return false
	}
	for i := range b.bits {
		if b.bits[i] != other.bits[i] {
			return false
		}
	}
	return true
}
