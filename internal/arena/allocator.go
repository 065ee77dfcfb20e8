package arena

import "math/bits"

// NativeAllocator hands out byte buffers bucketed by power-of-two size
// class and recycles them through per-class free lists. It backs the
// paged raw partitions of a batch, so between batches the same buffers
// are handed out again instead of churning the heap.
//
// Thread-affine: one allocator per worker, no internal locking.
type NativeAllocator struct {
	free        [][][]byte // indexed by size class (log2)
	outstanding int
}

// minAllocBits keeps tiny allocations from fragmenting the class table
const minAllocBits = 6 // 64 bytes

// NewNativeAllocator creates an empty allocator
func NewNativeAllocator() *NativeAllocator {
	return &NativeAllocator{
		free: make([][][]byte, 64),
	}
}

func sizeClass(n int) int {
	if n <= 1<<minAllocBits {
		return minAllocBits
	}
	return bits.Len(uint(n - 1))
}

// Alloc returns a buffer of length n, reusing a free buffer of the
// matching size class when one is available. Contents are not zeroed on
// the reuse path; callers overwrite what they read.
func (a *NativeAllocator) Alloc(n int) []byte {
	if n < 0 {
		panic("negative allocation")
	}
	class := sizeClass(n)
	a.outstanding++

	list := a.free[class]
	if len(list) > 0 {
		buf := list[len(list)-1]
		a.free[class] = list[:len(list)-1]
		return buf[:n]
	}
	return make([]byte, 1<<class)[:n]
}

// Free returns a buffer obtained from Alloc to its size-class free list.
// Passing nil is a no-op.
func (a *NativeAllocator) Free(buf []byte) {
	if buf == nil {
		return
	}
	class := sizeClass(cap(buf))
	a.free[class] = append(a.free[class], buf[:cap(buf)])
	a.outstanding--
}

// Outstanding reports the number of live allocations. Zero after every
// batch is an invariant the driver's teardown path maintains.
func (a *NativeAllocator) Outstanding() int {
	return a.outstanding
}
