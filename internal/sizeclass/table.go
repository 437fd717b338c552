// Package sizeclass is a reference SizeClasses implementation: the
// size-to-class and class-to-size/class-to-allocnpages tables a
// Central needs to grow (§4.5, §6).
//
// Grounded on the teacher's own msize.go commentary (see
// cloudfly-readgo/runtime/msize.go, carried into every generation of
// this design): "size classes are chosen so that rounding an
// allocation request up to the next size class wastes at most 12.5%",
// and each class's page count is chosen so that chopping the run of
// pages into objects wastes at most 12.5% of memory. Compute below
// computes classes under exactly that bound instead of hand-copying
// the runtime's own hardcoded numbers, since this module's page size
// and maximum small-object size are configurable, not fixed constants.
//
// cmd/gensizeclass runs this same algorithm offline and writes its
// result as a literal Class slice, the way the real toolchain's
// mksizeclasses.go generates sizeclasses.go instead of every process
// computing its table at startup; callers that would rather not pay
// Compute's cost on every boot can check in that generated file and
// wrap it in a Table of their own instead of calling Compute.
package sizeclass

import "github.com/flowstash/centralfree"

const maxWasteNum, maxWasteDen = 1, 8 // 12.5%

// Class describes one size class's object size and page allocation.
type Class struct {
	Size        uintptr // object size in bytes
	AllocNPages uintptr // pages fetched from the page heap per grow
}

// Table is a SizeClasses backed by a precomputed, immutable slice of
// Class, indexed by centralfree.SizeClass.
type Table struct {
	classes []Class
}

// Compute builds a Table covering object sizes up to maxSize, rounding
// every class up to align-byte alignment, under the waste bound
// described above. pageSize must match the PageHeap's page size.
func Compute(maxSize, align, pageSize uintptr) *Table {
	var classes []Class
	size := align
	for size <= maxSize {
		classes = append(classes, Class{Size: size, AllocNPages: allocNPages(size, pageSize)})
		next := size + (size+maxWasteDen-1)/maxWasteDen // +~12.5%
		size = roundUp(next, align)
		if size <= classes[len(classes)-1].Size {
			size = classes[len(classes)-1].Size + align
		}
	}
	return &Table{classes: classes}
}

// allocNPages picks the smallest page count n such that packing
// (n*pageSize)/size objects of size bytes into n pages wastes at most
// 1/8 of the n pages, the same bound class_to_allocnpages is built
// under in the design this generalizes.
func allocNPages(size, pageSize uintptr) uintptr {
	for n := uintptr(1); ; n++ {
		total := n * pageSize
		nObj := total / size
		if nObj == 0 {
			continue
		}
		waste := total - nObj*size
		if waste*maxWasteDen <= total*maxWasteNum {
			return n
		}
		if n > 64 {
			// Give up chasing a tighter bound past a generous ceiling;
			// 64 pages already amortizes any single small object's
			// rounding loss to well under the bound for all realistic
			// (size, pageSize) pairs this is ever computed with.
			return n
		}
	}
}

func roundUp(v, align uintptr) uintptr {
	return (v + align - 1) / align * align
}

// FromClasses wraps a precomputed slice of Class (typically one
// written by cmd/gensizeclass) as a Table, without paying Compute's
// cost.
func FromClasses(classes []Class) *Table {
	return &Table{classes: classes}
}

// Size implements centralfree.SizeClasses.
func (t *Table) Size(sc centralfree.SizeClass) uintptr {
	return t.classes[sc].Size
}

// AllocNPages implements centralfree.SizeClasses.
func (t *Table) AllocNPages(sc centralfree.SizeClass) uintptr {
	return t.classes[sc].AllocNPages
}

// Len returns the number of size classes in t.
func (t *Table) Len() int { return len(t.classes) }

// ClassFor returns the smallest size class whose Size is >= n, and
// false if n exceeds every class in t (the large-object path, out of
// scope for this module per its Non-goals).
func (t *Table) ClassFor(n uintptr) (centralfree.SizeClass, bool) {
	for i, c := range t.classes {
		if c.Size >= n {
			return centralfree.SizeClass(i), true
		}
	}
	return 0, false
}
