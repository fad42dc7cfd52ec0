// Package arena provides a fixed-pool byte allocator returning relocatable
// handles instead of pointers. A handle is a plain int64 offset into the
// arena's backing buffer; it survives being copied into an Entry and
// resolved again from a different goroutine, which a pointer-typed
// allocation cannot do once the arena grows or compacts.
//
// Concurrency
// -----------
// Arena is safe for concurrent use: callers serialize mutation of the
// *logical* structures built on top (the entry store's storeLock), but
// Allocate/Free/Resolve themselves take their own lock so that arena
// accounting stays correct even when called from multiple goroutines
// without an outer lock held (e.g. two concurrent insertion preparations
// allocating their plan buffers before either acquires storeLock).
//
// Allocation uses no-OOM semantics: Allocate never panics. Reaching
// capacity returns ok=false and the caller treats it exactly like an OOM
// from a real shared-memory allocator — drop the candidate, don't cache.
package arena

import (
	"sync"
	"sync/atomic"
)

// Handle is a stable, relocatable reference to a byte range inside an
// Arena. The zero Handle is reserved to mean "no allocation" (the null
// plan_handle state described in the data model).
type Handle int64

// NullHandle is the sentinel meaning "no allocation attached".
const NullHandle Handle = 0

// freeBlock is one entry of a size-classed free list.
type freeBlock struct {
	offset Handle
	next   int // index of next free block of the same size class, or -1
}

// Arena is a fixed-capacity byte pool. Capacity is reserved up front;
// Allocate carves space from the unused tail or reuses a freed block of
// the exact same size.
type Arena struct {
	mu   sync.Mutex
	buf  []byte
	tail int64 // offset of the first never-allocated byte

	// freeLists maps a byte size to the head index of a free block list
	// of that exact size, keyed by size for simplicity: callers always
	// free with the same size they allocated (the arena's contract,
	// mirrored from the original allocate(size)/free(handle,size) pair).
	freeLists map[int64]int
	freeBlocks []freeBlock

	allocedSize atomic.Int64
}

// New constructs an Arena with the given fixed capacity in bytes.
func New(capBytes int64) *Arena {
	if capBytes <= 0 {
		capBytes = 1
	}
	return &Arena{
		buf:       make([]byte, capBytes),
		freeLists: make(map[int64]int),
	}
}

// Allocate reserves size bytes and returns a handle to them, or ok=false
// if the arena has no room (OOM). A handle offset of 1 is used instead of
// 0 so that NullHandle remains distinguishable; offsets are therefore
// biased by one relative to the backing buffer.
func (a *Arena) Allocate(size int) (Handle, bool) {
	if size <= 0 {
		return NullHandle, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sz := int64(size)
	if head, ok := a.freeLists[sz]; ok {
		blk := a.freeBlocks[head]
		if blk.next < 0 {
			delete(a.freeLists, sz)
		} else {
			a.freeLists[sz] = blk.next
		}
		a.allocedSize.Add(sz)
		return blk.offset, true
	}

	if a.tail+sz > int64(len(a.buf)) {
		return NullHandle, false
	}
	off := a.tail + 1 // bias by one, see doc comment
	a.tail += sz
	a.allocedSize.Add(sz)
	return Handle(off), true
}

// Free releases a previously allocated range. size must match the size
// passed to the Allocate call that produced handle: the arena does not
// track sizes per handle, so the caller owns that bookkeeping.
func (a *Arena) Free(h Handle, size int) {
	if h == NullHandle || size <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sz := int64(size)
	idx := len(a.freeBlocks)
	a.freeBlocks = append(a.freeBlocks, freeBlock{offset: h, next: a.freeListHeadOrNeg1(sz)})
	a.freeLists[sz] = idx
	a.allocedSize.Add(-sz)
}

func (a *Arena) freeListHeadOrNeg1(sz int64) int {
	if head, ok := a.freeLists[sz]; ok {
		return head
	}
	return -1
}

// Resolve returns the byte slice backing handle h with the given length.
// The returned slice aliases the arena's internal buffer and must not be
// retained past a Free of the same handle.
func (a *Arena) Resolve(h Handle, length int) []byte {
	if h == NullHandle || length <= 0 {
		return nil
	}
	off := int64(h) - 1
	a.mu.Lock()
	defer a.mu.Unlock()
	if off < 0 || off+int64(length) > int64(len(a.buf)) {
		return nil
	}
	return a.buf[off : off+int64(length) : off+int64(length)]
}

// Put copies src into a freshly allocated range and returns its handle.
func (a *Arena) Put(src []byte) (Handle, bool) {
	h, ok := a.Allocate(len(src))
	if !ok {
		return NullHandle, false
	}
	copy(a.Resolve(h, len(src)), src)
	return h, true
}

// AllocedSize returns the number of bytes currently attributed to live
// allocations, for observability and capacity alarms.
func (a *Arena) AllocedSize() int64 { return a.allocedSize.Load() }

// Cap returns the arena's fixed total capacity in bytes.
func (a *Arena) Cap() int64 { return int64(len(a.buf)) }
