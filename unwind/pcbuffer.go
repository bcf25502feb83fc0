package unwind

import (
	"unsafe"

	"github.com/minio/highwayhash"
)

// hashKey deliberately stays all-zero: stack hashes only need to agree
// within one process run.
var hashKey [32]byte

// PCBuffer accumulates the program counters of one walk into fixed
// storage. Its Collect method is a Callback, so the typical signal-handler
// walk is:
//
//	buf.Reset()
//	unwind.TraceSignalContext(uctx, buf.Collect)
//
// None of its methods allocate.
type PCBuffer struct {
	pcs [DefaultMaxDepth]uint64
	n   int
}

// Collect records the frame's pc. It cancels the walk when the buffer is
// full.
func (b *PCBuffer) Collect(f Frame) bool {
	if b.n >= len(b.pcs) {
		return false
	}
	b.pcs[b.n] = f.PC
	b.n++
	return true
}

// PCs returns the recorded program counters, innermost first. The slice
// aliases the buffer and is invalidated by Reset.
func (b *PCBuffer) PCs() []uint64 {
	return b.pcs[:b.n]
}

// Len reports how many frames have been recorded.
func (b *PCBuffer) Len() int {
	return b.n
}

// Reset empties the buffer for the next walk.
func (b *PCBuffer) Reset() {
	b.n = 0
}

// Hash returns a hash of the recorded stack, for deduplicating identical
// stacks across samples without retaining them.
func (b *PCBuffer) Hash() uint64 {
	if b.n == 0 {
		return 0
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&b.pcs[0])), b.n*8)
	return highwayhash.Sum64(data, hashKey[:])
}
