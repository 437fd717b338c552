// Package markandsweep is a reference Sweeper implementation: it scans
// a span's objects and reincorporates the newly-dead ones into the
// owning Central via FreeSpan.
//
// Grounded on the teacher's own mspan.sweep description in
// mcentral.go's cacheSpan/freeSpan comments (objects whose alloc bit
// is set but mark bit isn't are reclaimed, the rest stay allocated) —
// generalized to index by byte address against markbits.Bitmap instead
// of the runtime's packed allocBits/gcmarkBits words, since this
// module's spans aren't numbered within one global heap bitmap.
package markandsweep

import (
	"github.com/flowstash/centralfree"
	"github.com/flowstash/centralfree/internal/markbits"
)

// IsMarked reports whether addr was proven reachable by the most
// recent mark pass. A real collector supplies this from its own mark
// bits; centralsim and tests supply a simulated one.
type IsMarked func(addr centralfree.Addr) bool

// CentralFor resolves the Central that owns a span's size class, so a
// single Sweeper instance can serve every size class's spans.
type CentralFor func(sc centralfree.SizeClass) *centralfree.Central

// Sweeper implements centralfree.Sweeper.
type Sweeper struct {
	bits    *markbits.Bitmap
	marked  IsMarked
	central CentralFor
}

// New builds a Sweeper over bits, consulting marked to tell live
// objects from dead ones and central to route reclaimed spans back to
// their owning Central.
func New(bits *markbits.Bitmap, marked IsMarked, central CentralFor) *Sweeper {
	return &Sweeper{bits: bits, marked: marked, central: central}
}

// Sweep implements centralfree.Sweeper. preserve is accepted for
// interface compatibility but unused: this module's Central.FreeSpan
// always performs its own list relocation, so there is no "caller
// already holds the span off every list" mode to honor.
func (sw *Sweeper) Sweep(s *centralfree.Span, preserve bool) int {
	var head, tail centralfree.Addr
	n := 0
	cap := s.Capacity()
	for i := uintptr(0); i < cap; i++ {
		addr := s.Start + centralfree.Addr(i*s.ElemSize)
		if !sw.bits.Live(addr) {
			// Already free (either never allocated out of this
			// generation's slice of the span, or freed earlier); not
			// this sweeper's concern.
			continue
		}
		if sw.marked(addr) {
			continue // still reachable
		}
		sw.bits.MarkFree(addr)
		if n == 0 {
			head = addr
		} else {
			s.Mem.WriteNext(tail, addr)
		}
		tail = addr
		n++
	}
	if n == 0 {
		return 0
	}
	s.Mem.WriteNext(tail, centralfree.Addr(0))
	sw.central(s.SizeClass).FreeSpan(s, n, head, tail)
	return n
}
