// Package markbits is a reference MarkMetadata implementation: one
// word-packed bit per object, tracking whether an address is
// currently live (allocated and not yet proven dead by a sweep).
//
// The design is the same one the teacher's own mcentral.go alludes to
// with allocBits/allocCache/refillAllocCache (a []uint64 packed bitmap
// indexed by object number, refilled a word at a time) — generalized
// here to index by byte address directly, since this module's objects
// are not necessarily numbered within a single contiguous heap.
package markbits

import (
	"sync"

	"github.com/flowstash/centralfree"
)

// Bitmap is a MarkMetadata backed by one bit per ElemSize-sized slot
// within every span it has been told about via MarkSpan.
type Bitmap struct {
	mu    sync.Mutex
	elem  map[centralfree.Addr]uintptr // span base -> elem size, for slot index math
	words map[centralfree.Addr][]uint64
	base  map[centralfree.Addr]centralfree.Addr // any address -> its span base
}

// New returns an empty Bitmap.
func New() *Bitmap {
	return &Bitmap{
		elem:  make(map[centralfree.Addr]uintptr),
		words: make(map[centralfree.Addr][]uint64),
		base:  make(map[centralfree.Addr]centralfree.Addr),
	}
}

func slot(base, addr centralfree.Addr, elemSize uintptr) uintptr {
	return uintptr(addr-base) / elemSize
}

// MarkSpan implements centralfree.MarkMetadata: it registers a freshly
// grown span's byte range so slot() arithmetic and Live/MarkFree/
// SetLive resolve addresses within it. Every slot starts free: a grow
// only carves the span and links every object onto its freelist (see
// central.go's grow), it does not hand any of them to an allocator, so
// nothing in the span is live yet. SetLive is what a thread cache
// calls as it actually pops objects off that freelist.
func (b *Bitmap) MarkSpan(base centralfree.Addr, elemSize uintptr, nObj uintptr, needZero bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nWords := (nObj + 63) / 64
	b.elem[base] = elemSize
	b.words[base] = make([]uint64, nWords)
	for i := uintptr(0); i < nObj; i++ {
		b.base[base+centralfree.Addr(i*elemSize)] = base
	}
}

// UnmarkSpan implements centralfree.MarkMetadata: it forgets a span
// returned to the page heap, so a stale address from a reused page
// range can never be mistaken for still belonging to the old span.
func (b *Bitmap) UnmarkSpan(base centralfree.Addr, bytes uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elemSize, ok := b.elem[base]
	if !ok {
		return
	}
	nObj := bytes / elemSize
	for i := uintptr(0); i < nObj; i++ {
		delete(b.base, base+centralfree.Addr(i*elemSize))
	}
	delete(b.elem, base)
	delete(b.words, base)
}

// MarkFree implements centralfree.MarkMetadata: it clears addr's live
// bit. Called by Central when an object is freed via FreeList or
// UncacheSpan's freebuf drain, and by markandsweep.Sweeper for each
// object it reclaims before handing the chain to FreeSpan.
func (b *Bitmap) MarkFree(addr centralfree.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	base, ok := b.base[addr]
	if !ok {
		return
	}
	elemSize := b.elem[base]
	i := slot(base, addr, elemSize)
	b.words[base][i/64] &^= 1 << (i % 64)
}

// Live reports whether addr's bit is still set. Used by
// markandsweep.Sweeper to decide which objects in a span survived the
// mark phase and should stay allocated, versus which are newly dead
// and belong in the chain handed to Central.FreeSpan.
func (b *Bitmap) Live(addr centralfree.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	base, ok := b.base[addr]
	if !ok {
		return false
	}
	elemSize := b.elem[base]
	i := slot(base, addr, elemSize)
	return b.words[base][i/64]&(1<<(i%64)) != 0
}

// SetLive implements centralfree.MarkMetadata: it sets addr's live
// bit. Called when an object is actually handed out of a span's
// freelist to an allocator (see examples/threadcache's Cache.Alloc),
// the allocation-side counterpart to MarkFree.
func (b *Bitmap) SetLive(addr centralfree.Addr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	base, ok := b.base[addr]
	if !ok {
		return
	}
	elemSize := b.elem[base]
	i := slot(base, addr, elemSize)
	b.words[base][i/64] |= 1 << (i % 64)
}
