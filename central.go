package centralfree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowstash/centralfree/internal/fatal"
)

// Central is the central free-list allocator for one size class: the
// broker between thread caches and the page heap. One mutex guards
// both of its span lists. See the package doc and §3–§5 of the design
// this implements for the invariants a Central must hold whenever its
// mutex is not held.
type Central struct {
	sizeClass SizeClass
	cfg       Config

	mu       sync.Mutex
	nonempty spanList // spans with a free object
	empty    spanList // spans with no known free objects
	nfree    int64    // running sum of free objects across owned spans

	heap    PageHeap
	sweeper Sweeper
	classes SizeClasses
	mark    MarkMetadata

	tr tracer

	grows, returns, cacheSpans, uncacheSpans uint64
}

// NewCentral constructs and initializes a Central for sc.
func NewCentral(sc SizeClass, heap PageHeap, sweeper Sweeper, classes SizeClasses, mark MarkMetadata, opts ...Option) *Central {
	c := &Central{}
	c.Init(sc, heap, sweeper, classes, mark, opts...)
	return c
}

// Init (Initialize a single central free list, in the design's words)
// resets c for size class sc. It is exported so a fleet of Centrals
// (one per size class) can be preallocated in an array and initialized
// in place, the way the teacher's own runtime lays out per-class state.
func (c *Central) Init(sc SizeClass, heap PageHeap, sweeper Sweeper, classes SizeClasses, mark MarkMetadata, opts ...Option) {
	c.sizeClass = sc
	c.cfg = newConfig(opts...)
	c.nonempty = spanList{}
	c.empty = spanList{}
	c.nfree = 0
	c.heap = heap
	c.sweeper = sweeper
	c.classes = classes
	c.mark = mark
	label := c.cfg.Label
	if label == "" {
		label = fmt.Sprintf("class-%d", sc)
	}
	c.tr = newTracer("centralfree.Central", label)
}

// Stats returns a point-in-time snapshot of c's bookkeeping counters.
func (c *Central) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		SizeClass:    c.sizeClass,
		NFree:        c.nfree,
		NonemptyLen:  c.nonempty.n,
		EmptyLen:     c.empty.n,
		Grows:        c.grows,
		Returns:      c.returns,
		CacheSpans:   c.cacheSpans,
		UncacheSpans: c.uncacheSpans,
	}
}

// MarkAllocated records that addr, one object within a span currently
// held by a thread cache, has just been popped off that span's
// freelist (Span.Pop) and handed to an allocator. It takes no lock of
// its own beyond markbits' internal one: the thread cache already owns
// the span unsynchronized while cached (§5), and the mark bitmap is
// addressed, not span-state, so no c.mu is needed here. Every caller
// that pops directly from a cached Span's freelist must call this, or
// the object is indistinguishable from one still sitting free on that
// same freelist the next time this span is swept.
func (c *Central) MarkAllocated(addr Addr) {
	c.mark.SetLive(addr)
}

// CacheSpan acquires a span for a thread cache (§4.1). It returns
// (span, true) with span.InCache set and span unlinked from nonempty,
// or (nil, false) only if the page heap could not supply more memory.
func (c *Central) CacheSpan(ctx context.Context) (*Span, bool) {
	c.mu.Lock()
	sg := c.heap.SweepGen()

	// sg is refreshed after every sweep/grow below (the teacher's own
	// mcentral.c reads it once per call instead). A concurrent GC cycle
	// can advance the global generation while this call is unlocked
	// sweeping or growing, and re-reading lets an already-current span
	// skip a redundant sweep-claim attempt on the next pass rather than
	// waiting for the next CacheSpan call to notice.
	for {
		var found *Span
		retrying := false

		for s := c.nonempty.first; s != nil; s = s.next {
			if s.Sweepgen == sg-2 && atomic.CompareAndSwapUint32(&s.Sweepgen, sg-2, sg-1) {
				c.mu.Unlock()
				c.tr.printf("sweep claimed from nonempty: %s", spanFields(s))
				c.sweeper.Sweep(s, false)
				// A sweep that frees nothing never reaches FreeSpan, so
				// publish the claimed span as swept if it is still sg-1.
				atomic.CompareAndSwapUint32(&s.Sweepgen, sg-1, sg)
				c.mu.Lock()
				sg = c.heap.SweepGen()
				retrying = true
				break
			}
			if s.Sweepgen == sg-1 {
				// being swept by a background sweeper, skip
				continue
			}
			found = s
			break
		}
		if retrying {
			continue
		}

		if found == nil {
			for s := c.empty.first; s != nil; s = s.next {
				if s.Sweepgen == sg-2 && atomic.CompareAndSwapUint32(&s.Sweepgen, sg-2, sg-1) {
					// Tail reinsertion groups already-swept-empty spans
					// at the end of the list, which is what makes the
					// "break on swept empty" rule below terminate.
					c.empty.remove(s)
					c.empty.insertBack(s)
					c.mu.Unlock()
					c.tr.printf("sweep claimed from empty: %s", spanFields(s))
					c.sweeper.Sweep(s, false)
					atomic.CompareAndSwapUint32(&s.Sweepgen, sg-1, sg)
					c.mu.Lock()
					sg = c.heap.SweepGen()
					retrying = true
					break
				}
				if s.Sweepgen == sg-1 {
					continue
				}
				// Already swept and still empty: every subsequent span
				// must also be swept or being swept (see insertBack
				// above), so there is nothing left to find.
				break
			}
		}
		if retrying {
			continue
		}

		if found == nil {
			if !c.grow(ctx, sg) {
				c.mu.Unlock()
				return nil, false
			}
			c.grows++
			sg = c.heap.SweepGen()
			continue
		}

		cap := found.Capacity()
		n := cap - uintptr(found.Ref())
		if n == 0 {
			fatal.Abort("cache_span: empty span taken from nonempty", fatal.Fields{"span": found.ID})
		}
		if !found.HasFree() {
			fatal.Abort("cache_span: freelist empty on nonempty span", fatal.Fields{"span": found.ID})
		}
		c.nfree -= int64(n)
		c.nonempty.remove(found)
		c.empty.insertBack(found)
		found.InCache = true
		c.cacheSpans++
		c.mu.Unlock()
		c.tr.printf("cache_span -> %s", spanFields(found))
		return found, true
	}
}

// UncacheSpan returns a span from a thread cache (§4.2). The caller
// guarantees no further unsynchronized allocation from s.
func (c *Central) UncacheSpan(s *Span) {
	c.mu.Lock()
	s.InCache = false

	// Drain freebuf into freelist; order after drain is not observable.
	for addr := s.drainFreebuf(); addr != nilAddr; {
		next := s.Mem.ReadNext(addr)
		c.mark.MarkFree(addr)
		s.Mem.WriteNext(addr, s.freelist)
		s.freelist = addr
		s.addRef(-1)
		addr = next
	}

	if s.Ref() == 0 {
		// CacheSpan already took this span's free count out of nfree;
		// add it back so returnToHeap's full-capacity subtraction nets
		// to zero.
		c.nfree += int64(s.Capacity())
		c.uncacheSpans++
		c.returnToHeap(s) // releases c.mu
		return
	}

	n := int64(s.Capacity()) - int64(s.Ref())
	if n > 0 {
		c.empty.remove(s)
		c.nonempty.insertFront(s)
		c.nfree += n
	}
	c.uncacheSpans++
	c.mu.Unlock()
	c.tr.printf("uncache_span: %s", spanFields(s))
}

// FreeList frees a heterogeneous linked chain of individual objects
// (§4.3). Objects in the chain may belong to different spans.
func (c *Central) FreeList(chain Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for v := chain; v != nilAddr; {
		s, ok := c.heap.Lookup(v)
		if !ok || s == nil {
			fatal.Abort("free_list: invalid free (unknown address)", fatal.Fields{"addr": uintptr(v)})
		}
		// Capture the caller's chain pointer before any relinking
		// below overwrites the object's in-place next pointer.
		next := s.Mem.ReadNext(v)
		c.freeOne(s, v)
		v = next
	}
}

// freeOne frees one object v owned by span s. Caller must hold c.mu.
func (c *Central) freeOne(s *Span, v Addr) {
	if s.Ref() == 0 {
		fatal.Abort("free_list: invalid free (span already fully free)", fatal.Fields{"span": s.ID, "addr": uintptr(v)})
	}
	// Advisory check only: a concurrent FreeSpan may legitimately
	// re-establish sweepgen == heap.SweepGen() between this check and
	// our list operations below; that race is tolerated. A stale
	// sweepgen-2 span being mutated outside the sweep-claim path is
	// not, and is exactly what this check exists to catch.
	if sg := c.heap.SweepGen(); s.Sweepgen != sg {
		fatal.Abort("free_list: free into unswept span", fatal.Fields{
			"span": s.ID, "span_sweepgen": s.Sweepgen, "heap_sweepgen": sg,
		})
	}

	if s.InCache {
		// The thread cache owns freelist/ref unsynchronized; route the
		// free through freebuf instead. UncacheSpan drains it later.
		s.pushFreebuf(v)
		return
	}

	if !s.HasFree() {
		c.empty.remove(s)
		c.nonempty.insertFront(s)
	}
	c.mark.MarkFree(v)
	s.Mem.WriteNext(v, s.freelist)
	s.freelist = v
	s.addRef(-1)
	c.nfree++

	if s.Ref() == 0 {
		c.returnToHeap(s) // releases c.mu
		c.mu.Lock()       // the outer FreeList loop continues correctly
	}
}

// FreeSpan merges a sweeper-built batch of n objects (the chain
// start..end) back into s (§4.3). s must not be cached. Reports
// whether s was returned to the page heap.
func (c *Central) FreeSpan(s *Span, n int, start, end Addr) bool {
	if s.InCache {
		fatal.Abort("free_span: span is cached", fatal.Fields{"span": s.ID})
	}

	c.mu.Lock()

	wasEmpty := !s.HasFree()
	if wasEmpty {
		c.empty.remove(s)
		c.nonempty.insertFront(s)
	}

	s.Mem.WriteNext(end, s.freelist)
	s.freelist = start
	s.addRef(-int32(n))
	c.nfree += int64(n)

	// Publish sweepgen last: this is the signal that the span may be
	// selected by CacheSpan again, so it must come after the list
	// relocation and freelist splice above, not before.
	atomic.StoreUint32(&s.Sweepgen, c.heap.SweepGen())

	if s.Ref() != 0 {
		c.mu.Unlock()
		return false
	}

	c.returnToHeap(s) // releases c.mu
	return true
}

// returnToHeap hands an empty span back to the page heap (§4.4).
// Called with c.mu held; returns with it released.
func (c *Central) returnToHeap(s *Span) {
	if s.Ref() != 0 {
		fatal.Abort("return_to_heap: ref wrong", fatal.Fields{"span": s.ID, "ref": s.Ref()})
	}
	switch s.list {
	case &c.nonempty:
		c.nonempty.remove(s)
	case &c.empty:
		c.empty.remove(s)
	default:
		fatal.Abort("return_to_heap: span not linked in this central", fatal.Fields{"span": s.ID})
	}
	s.NeedZero = true
	s.freelist = nilAddr
	c.nfree -= int64(s.Capacity())
	c.returns++

	c.mu.Unlock()
	c.tr.printf("return_to_heap: %s", spanFields(s))

	c.mark.UnmarkSpan(s.Start, s.Capacity()*s.ElemSize)
	c.heap.Free(s)
}

// grow replenishes c from the page heap (§4.5). Called with c.mu held;
// returns with it held in both outcomes. Reports whether a span was
// obtained.
func (c *Central) grow(ctx context.Context, sg uint32) bool {
	c.mu.Unlock()

	npages := c.classes.AllocNPages(c.sizeClass)
	size := c.classes.Size(c.sizeClass)

	s, ok := c.heap.Alloc(ctx, npages, c.sizeClass, true)
	if !ok {
		c.mu.Lock()
		return false
	}

	n := (npages * pageSize) / size
	s.SizeClass = c.sizeClass
	s.ElemSize = size
	s.Limit = s.Start + Addr(size*n)

	var head, tail Addr
	p := s.Start
	for i := uintptr(0); i < n; i++ {
		if i == 0 {
			head = p
		} else {
			s.Mem.WriteNext(tail, p)
		}
		tail = p
		p += Addr(size)
	}
	s.Mem.WriteNext(tail, nilAddr)
	s.freelist = head
	s.Sweepgen = sg

	c.mark.MarkSpan(s.Start, size, n, true)

	c.mu.Lock()
	c.nonempty.insertFront(s)
	c.nfree += int64(n)
	return true
}
