package pagearena

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/flowstash/centralfree"
)

const pageSize = 1 << 13 // 8KiB, matches centralfree's page granularity

// extent is a free, page-aligned byte range, expressed in page indices.
type extent struct {
	pageIdx, npages uintptr
}

// Arena is a single mmap-backed region of memory cut into
// page-granularity spans. It implements both centralfree.PageHeap
// (the page-allocation tier) and centralfree.Memory (reading/writing
// the in-place "next" link of a free object), since both are just
// different views onto the same bytes.
type Arena struct {
	mem []byte
	base uintptr

	mu        sync.Mutex
	free      []extent // sorted, disjoint, page-index order
	pageOwner []*centralfree.Span

	sweepgen  atomic.Uint32
	spanIDSeq uint64
}

// New reserves an arena of at least totalBytes, rounded up to a whole
// number of pages.
func New(totalBytes int) (*Arena, error) {
	npages := (totalBytes + pageSize - 1) / pageSize
	if npages <= 0 {
		return nil, fmt.Errorf("pagearena: non-positive size")
	}
	region, err := mmapRegion(npages * pageSize)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		mem:       region,
		base:      uintptr(unsafe.Pointer(&region[0])),
		pageOwner: make([]*centralfree.Span, npages),
		free:      []extent{{pageIdx: 0, npages: uintptr(npages)}},
	}
	return a, nil
}

// Close releases the arena's backing memory. Not safe to call while
// any Span allocated from a is still in use.
func (a *Arena) Close() error {
	return munmapRegion(a.mem)
}

// AdvanceSweepGen advances the global sweep generation by 2, the way
// a GC cycle does, and returns the new value. Exposed for tests and
// the CLI workload driver, which stand in for a real garbage
// collector's cycle boundary.
func (a *Arena) AdvanceSweepGen() uint32 {
	return a.sweepgen.Add(2)
}

// SweepGen implements centralfree.PageHeap.
func (a *Arena) SweepGen() uint32 { return a.sweepgen.Load() }

// Alloc implements centralfree.PageHeap using a simple first-fit
// allocator over the arena's free-extent list.
func (a *Arena) Alloc(_ context.Context, npages uintptr, sc centralfree.SizeClass, needZero bool) (*centralfree.Span, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// a.free is kept sorted by pageIdx (for coalescing in insertFree),
	// not by npages, so the first-fit search has to be a linear scan
	// rather than sort.Search.
	idx := -1
	for i, e := range a.free {
		if e.npages >= npages {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false
	}
	e := a.free[idx]
	if e.npages == npages {
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	} else {
		a.free[idx] = extent{pageIdx: e.pageIdx + npages, npages: e.npages - npages}
	}

	start := a.base + e.pageIdx*pageSize
	id := atomic.AddUint64(&a.spanIDSeq, 1)
	s := &centralfree.Span{
		ID:       id,
		NPages:   npages,
		Start:    centralfree.Addr(start),
		Mem:      a,
		Sweepgen: a.SweepGen(),
		NeedZero: needZero,
	}
	for i := uintptr(0); i < npages; i++ {
		a.pageOwner[e.pageIdx+i] = s
	}

	if needZero {
		bytes := a.mem[e.pageIdx*pageSize : (e.pageIdx+npages)*pageSize]
		for i := range bytes {
			bytes[i] = 0
		}
	}
	return s, true
}

// Free implements centralfree.PageHeap.
func (a *Arena) Free(s *centralfree.Span) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pageIdx := (uintptr(s.Start) - a.base) / pageSize
	for i := uintptr(0); i < s.NPages; i++ {
		a.pageOwner[pageIdx+i] = nil
	}
	adviseFree(a.mem[pageIdx*pageSize : (pageIdx+s.NPages)*pageSize])
	a.insertFree(extent{pageIdx: pageIdx, npages: s.NPages})
}

// insertFree inserts e into a.free in page-index order and coalesces
// with adjacent extents. Caller must hold a.mu.
func (a *Arena) insertFree(e extent) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].pageIdx >= e.pageIdx })
	a.free = append(a.free, extent{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = e

	// Merge with the following extent.
	if i+1 < len(a.free) && a.free[i].pageIdx+a.free[i].npages == a.free[i+1].pageIdx {
		a.free[i].npages += a.free[i+1].npages
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	// Merge with the preceding extent.
	if i > 0 && a.free[i-1].pageIdx+a.free[i-1].npages == a.free[i].pageIdx {
		a.free[i-1].npages += a.free[i].npages
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// Lookup implements centralfree.PageHeap.
func (a *Arena) Lookup(addr centralfree.Addr) (*centralfree.Span, bool) {
	u := uintptr(addr)
	if u < a.base || u >= a.base+uintptr(len(a.mem)) {
		return nil, false
	}
	pageIdx := (u - a.base) / pageSize

	a.mu.Lock()
	s := a.pageOwner[pageIdx]
	a.mu.Unlock()
	if s == nil {
		return nil, false
	}
	return s, true
}

// ReadNext implements centralfree.Memory: the next-object link of a
// free object lives in the object's own first machine word.
func (a *Arena) ReadNext(addr centralfree.Addr) centralfree.Addr {
	p := (*uintptr)(unsafe.Pointer(uintptr(addr)))
	return centralfree.Addr(*p)
}

// WriteNext implements centralfree.Memory.
func (a *Arena) WriteNext(addr centralfree.Addr, next centralfree.Addr) {
	p := (*uintptr)(unsafe.Pointer(uintptr(addr)))
	*p = uintptr(next)
}
