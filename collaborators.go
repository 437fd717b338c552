package centralfree

import "context"

// PageHeap is the tier below: it allocates and frees spans in
// multiples of a page and tracks the global sweep generation (§6).
type PageHeap interface {
	// Alloc requests a span of npages pages for sc. needZero requests
	// zero-fill on reuse. Returns (nil, false) on out-of-memory.
	Alloc(ctx context.Context, npages uintptr, sc SizeClass, needZero bool) (*Span, bool)
	// Free returns s to the heap. s.Ref() must be 0.
	Free(s *Span)
	// Lookup resolves an address to its owning span, or (nil, false)
	// if addr is not backed by any live span.
	Lookup(addr Addr) (*Span, bool)
	// SweepGen is the heap's current global sweep generation, advanced
	// by 2 every GC cycle.
	SweepGen() uint32
}

// Sweeper scans a span's objects, builds a free chain of the newly
// dead ones, and publishes sweepgen through FreeSpan (§4.1, §6). When
// a sweep that CacheSpan claimed frees nothing, CacheSpan publishes
// sweepgen itself after Sweep returns. Central never sweeps spans
// itself; it only coordinates sweepers via the sweepgen CAS.
type Sweeper interface {
	// Sweep scans s and reincorporates newly-dead objects via the
	// owning Central's FreeSpan. It reports how many objects were
	// freed. preserve instructs the sweeper that the caller (CacheSpan)
	// already holds s off every list and will relink it itself.
	Sweep(s *Span, preserve bool) (freed int)
}

// SizeClasses exposes the immutable size-class tables (§6).
type SizeClasses interface {
	// Size returns the object size in bytes for sc.
	Size(sc SizeClass) uintptr
	// AllocNPages returns how many pages a freshly grown span of sc
	// spans.
	AllocNPages(sc SizeClass) uintptr
}

// MarkMetadata is the external collaborator that owns per-object
// liveness/mark bits (§6). Central calls it when an object transitions
// to free, and when a span's byte range enters or leaves central
// ownership. A freshly grown span starts with every slot free (it has
// been carved but nothing has been handed to an allocator yet); a
// thread cache popping an object off a span's freelist is what
// transitions it to live, via SetLive, not MarkSpan. Without that
// transition, Sweeper would find every never-yet-popped slot in a
// span's full capacity still bearing its grow-time state and, absent
// a mark for it, reclaim it a second time even though it already sits
// free on the span's own freelist.
type MarkMetadata interface {
	MarkFree(addr Addr)
	SetLive(addr Addr)
	MarkSpan(base Addr, elemSize uintptr, nObj uintptr, needZero bool)
	UnmarkSpan(base Addr, bytes uintptr)
}

// Stats is a read-only snapshot of a Central's bookkeeping counters,
// safe to read concurrently (Central.Stats takes the mutex to build
// it). It never itself mutates Central state.
type Stats struct {
	SizeClass    SizeClass
	NFree        int64
	NonemptyLen  int
	EmptyLen     int
	Grows        uint64
	Returns      uint64
	CacheSpans   uint64
	UncacheSpans uint64
}
