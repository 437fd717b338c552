package markbits

import (
	"testing"

	"github.com/flowstash/centralfree"
)

func TestMarkSpanStartsAllFree(t *testing.T) {
	b := New()
	base := centralfree.Addr(0x1000)
	const elemSize = 16
	const nObj = 4

	b.MarkSpan(base, elemSize, nObj, true)
	for i := uintptr(0); i < nObj; i++ {
		addr := base + centralfree.Addr(i*elemSize)
		if b.Live(addr) {
			t.Errorf("slot %d live right after MarkSpan, before anything was ever popped off its freelist", i)
		}
	}
}

func TestMarkFreeClearsOnlyThatSlot(t *testing.T) {
	b := New()
	base := centralfree.Addr(0x2000)
	const elemSize = 16
	const nObj = 4
	b.MarkSpan(base, elemSize, nObj, true)
	for i := uintptr(0); i < nObj; i++ {
		b.SetLive(base + centralfree.Addr(i*elemSize))
	}

	target := base + elemSize
	b.MarkFree(target)

	if b.Live(target) {
		t.Error("freed slot still reports live")
	}
	for i := uintptr(0); i < nObj; i++ {
		addr := base + centralfree.Addr(i*elemSize)
		if addr == target {
			continue
		}
		if !b.Live(addr) {
			t.Errorf("unrelated slot %d went dead after MarkFree on a different slot", i)
		}
	}
}

func TestSetLiveReversesMarkFree(t *testing.T) {
	b := New()
	base := centralfree.Addr(0x3000)
	b.MarkSpan(base, 8, 1, true)

	b.SetLive(base) // simulates a thread cache popping this object
	if !b.Live(base) {
		t.Fatal("expected live after SetLive")
	}

	b.MarkFree(base) // simulates freeing it
	if b.Live(base) {
		t.Fatal("expected dead after MarkFree")
	}

	b.SetLive(base) // and a later re-allocation
	if !b.Live(base) {
		t.Error("expected live after SetLive")
	}
}

func TestUnmarkSpanForgetsAddresses(t *testing.T) {
	b := New()
	base := centralfree.Addr(0x4000)
	const elemSize = 16
	const nObj = 4
	b.MarkSpan(base, elemSize, nObj, true)
	b.UnmarkSpan(base, elemSize*nObj)

	for i := uintptr(0); i < nObj; i++ {
		addr := base + centralfree.Addr(i*elemSize)
		if b.Live(addr) {
			t.Errorf("slot %d still reports live after UnmarkSpan", i)
		}
	}
}
