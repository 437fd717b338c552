package centralfree

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/flowstash/centralfree/internal/markandsweep"
	"github.com/flowstash/centralfree/internal/markbits"
	"github.com/flowstash/centralfree/internal/pagearena"
	"github.com/flowstash/centralfree/internal/sizeclass"
)

// testRig wires one Central for a single size class over a real
// pagearena.Arena, the way cmd/centralsim does, so tests exercise the
// whole collaborator graph rather than hand-rolled fakes.
type testRig struct {
	arena   *pagearena.Arena
	bits    *markbits.Bitmap
	classes *sizeclass.Table
	central *Central
}

func newTestRig(t *testing.T, elemSize uintptr) *testRig {
	t.Helper()
	arena, err := pagearena.New(1 << 20) // 1MiB, plenty for small tests
	if err != nil {
		t.Fatalf("pagearena.New: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	// A single hand-built class rather than sizeclass.Compute's
	// geometric table, so the numbers match the boundary scenarios'
	// literal values (elemsize=16, npages=1 grows).
	table := sizeclass.FromClasses([]sizeclass.Class{{Size: elemSize, AllocNPages: 1}})

	bits := markbits.New()
	var central *Central
	sweeper := markandsweep.New(bits, func(Addr) bool { return false }, func(SizeClass) *Central {
		return central
	})
	central = NewCentral(0, arena, sweeper, table, bits, WithLabel("test"))

	return &testRig{arena: arena, bits: bits, classes: table, central: central}
}

func TestSingleClassGrow(t *testing.T) {
	// Boundary scenario 1: elemsize=16, npages=1, page size 8192 here
	// (the module's fixed pageShift), so capacity = 8192/16 = 512.
	r := newTestRig(t, 16)

	s, ok := r.central.CacheSpan(context.Background())
	if !ok {
		t.Fatal("CacheSpan: no span")
	}
	if !s.InCache {
		t.Error("span not marked InCache")
	}
	if !s.HasFree() {
		t.Error("freshly grown span should have a freelist")
	}
	wantCap := s.Capacity()
	if got := s.Ref(); got != 0 {
		t.Errorf("Ref() = %d, want 0", got)
	}
	st := r.central.Stats()
	if st.NFree != 0 {
		t.Errorf("Stats().NFree = %d, want 0 (all capacity is with the cache)", st.NFree)
	}
	if st.EmptyLen != 1 || st.NonemptyLen != 0 {
		t.Errorf("Stats() lists = (nonempty=%d empty=%d), want (0, 1)", st.NonemptyLen, st.EmptyLen)
	}
	t.Logf("capacity = %d", wantCap)
}

func TestUncacheSpanPartiallyUsed(t *testing.T) {
	// Boundary scenario 2.
	r := newTestRig(t, 16)
	s, ok := r.central.CacheSpan(context.Background())
	if !ok {
		t.Fatal("CacheSpan: no span")
	}
	cap := s.Capacity()

	for i := 0; i < 10; i++ {
		if _, ok := s.Pop(); !ok {
			t.Fatalf("Pop() ran out early at i=%d (capacity=%d)", i, cap)
		}
	}

	r.central.UncacheSpan(s)

	if s.InCache {
		t.Error("UncacheSpan left InCache set")
	}
	if got := s.Ref(); got != 10 {
		t.Errorf("Ref() = %d, want 10", got)
	}
	st := r.central.Stats()
	wantFree := cap - 10
	if st.NFree != int64(wantFree) {
		t.Errorf("Stats().NFree = %d, want %d", st.NFree, wantFree)
	}
	if st.NonemptyLen != 1 || st.EmptyLen != 0 {
		t.Errorf("Stats() lists = (nonempty=%d empty=%d), want (1, 0)", st.NonemptyLen, st.EmptyLen)
	}
}

func TestFreebufDrain(t *testing.T) {
	// Boundary scenario 3.
	r := newTestRig(t, 16)
	s, ok := r.central.CacheSpan(context.Background())
	if !ok {
		t.Fatal("CacheSpan: no span")
	}

	var popped []Addr
	for i := 0; i < 10; i++ {
		addr, ok := s.Pop()
		if !ok {
			t.Fatalf("Pop() ran out early at i=%d", i)
		}
		popped = append(popped, addr)
	}

	// Free 3 objects while still cached: they must go through freebuf,
	// not freelist/ref.
	freelistBefore := s.freelist
	for i := 0; i < 3; i++ {
		r.arena.WriteNext(popped[i], 0)
		r.central.FreeList(popped[i])
	}
	if got := s.Ref(); got != 10 {
		t.Errorf("Ref() changed to %d while cached, want unchanged 10", got)
	}
	if s.freelist != freelistBefore {
		t.Errorf("freelist mutated while cached")
	}

	r.central.UncacheSpan(s)

	if got := s.Ref(); got != 7 {
		t.Errorf("Ref() after uncache+drain = %d, want 7", got)
	}
	if s.freebuf.Load() != 0 {
		t.Errorf("freebuf not drained to empty")
	}
	wantFreelistLen := s.Capacity() - 7
	gotLen := chainLen(r.arena, s.freelist)
	if uintptr(gotLen) != wantFreelistLen {
		t.Errorf("freelist length = %d, want %d", gotLen, wantFreelistLen)
	}
}

func TestFullFreeReturnsToHeap(t *testing.T) {
	// Boundary scenario 4.
	r := newTestRig(t, 16)
	s, ok := r.central.CacheSpan(context.Background())
	if !ok {
		t.Fatal("CacheSpan: no span")
	}
	cap := s.Capacity()

	var addrs []Addr
	for i := uintptr(0); i < cap; i++ {
		addr, ok := s.Pop()
		if !ok {
			t.Fatalf("Pop() ran out early at i=%d", i)
		}
		addrs = append(addrs, addr)
	}

	r.central.UncacheSpan(s)

	for _, addr := range addrs {
		r.arena.WriteNext(addr, 0)
		r.central.FreeList(addr)
	}

	if _, ok := r.arena.Lookup(s.Start); ok {
		t.Error("span still resolvable by the page heap after full free")
	}
	st := r.central.Stats()
	if st.NFree != 0 {
		t.Errorf("Stats().NFree = %d, want 0", st.NFree)
	}
	if st.NonemptyLen != 0 || st.EmptyLen != 0 {
		t.Errorf("span still linked: nonempty=%d empty=%d", st.NonemptyLen, st.EmptyLen)
	}
	if st.Returns != 1 {
		t.Errorf("Returns = %d, want 1", st.Returns)
	}
}

func TestCacheSpanAcrossClasses(t *testing.T) {
	// Sanity: two Centrals over the same arena never hand out
	// overlapping spans (P3, restricted to a single process/run).
	arena, err := pagearena.New(1 << 20)
	if err != nil {
		t.Fatalf("pagearena.New: %v", err)
	}
	defer arena.Close()
	bits := markbits.New()
	classes := sizeclass.FromClasses([]sizeclass.Class{{Size: 16, AllocNPages: 1}, {Size: 32, AllocNPages: 1}})

	centrals := make([]*Central, 2)
	sweeper := markandsweep.New(bits, func(Addr) bool { return false }, func(sc SizeClass) *Central { return centrals[sc] })
	centrals[0] = NewCentral(0, arena, sweeper, classes, bits)
	centrals[1] = NewCentral(1, arena, sweeper, classes, bits)

	s0, ok := centrals[0].CacheSpan(context.Background())
	if !ok {
		t.Fatal("class 0 CacheSpan failed")
	}
	s1, ok := centrals[1].CacheSpan(context.Background())
	if !ok {
		t.Fatal("class 1 CacheSpan failed")
	}
	if s0.Start == s1.Start {
		t.Fatal("two classes got the same span")
	}
}

// TestConcurrentCacheUncache randomizes concurrent CacheSpan/Pop/
// UncacheSpan/FreeList traffic against one Central and checks P1
// (conservation) after every goroutine settles. Run with -race.
func TestConcurrentCacheUncache(t *testing.T) {
	iterations := 200
	if testing.Short() {
		iterations = 20
	}
	r := newTestRig(t, 16)

	var g errgroup.Group
	var mu sync.Mutex
	var allFreed []Addr

	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < iterations; i++ {
				s, ok := r.central.CacheSpan(context.Background())
				if !ok {
					continue
				}
				n := rng.Intn(5)
				var freed []Addr
				for j := 0; j < n; j++ {
					addr, ok := s.Pop()
					if !ok {
						break
					}
					freed = append(freed, addr)
				}
				r.central.UncacheSpan(s)
				mu.Lock()
				allFreed = append(allFreed, freed...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker error: %v", err)
	}

	for _, addr := range allFreed {
		r.arena.WriteNext(addr, 0)
		r.central.FreeList(addr)
	}

	checkConservation(t, r.central)
}

// checkConservation verifies P1: nfree equals the sum, over every
// span linked in nonempty or empty, of (capacity - ref).
func checkConservation(t *testing.T, c *Central) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for s := c.nonempty.first; s != nil; s = s.next {
		sum += int64(s.Capacity()) - int64(s.Ref())
		if !s.HasFree() {
			t.Errorf("P2 violation: span %d in nonempty with no freelist", s.ID)
		}
		if s.InCache {
			t.Errorf("P2 violation: span %d in nonempty but InCache", s.ID)
		}
	}
	for s := c.empty.first; s != nil; s = s.next {
		sum += int64(s.Capacity()) - int64(s.Ref())
		if s.InCache {
			t.Errorf("invariant violation: span %d in empty but InCache after every cache released it", s.ID)
		}
		if s.Ref() == 0 {
			t.Errorf("P4 violation: span %d with ref==0 still linked", s.ID)
		}
	}
	if sum != c.nfree {
		t.Errorf("P1 violation: nfree=%d but sum(capacity-ref) over lists=%d", c.nfree, sum)
	}
}

// chainLen walks a free chain and counts its length.
func chainLen(mem Memory, head Addr) int {
	n := 0
	for v := head; v != nilAddr; {
		n++
		v = mem.ReadNext(v)
	}
	return n
}
