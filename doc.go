// Package centralfree implements a central free-list allocator: the
// broker that sits between per-thread object caches and a
// page-granularity heap in a size-class segregated allocator.
//
// A Central owns, for one size class, the population of spans that
// back small-object allocation. It hands spans to thread caches
// (CacheSpan), reclaims them when caches are drained (UncacheSpan),
// merges sweeper-produced free lists back into spans (FreeSpan), and
// accepts individually freed objects (FreeList). Fully empty spans are
// returned to the page heap.
//
// The page heap, the sweeper, size-class tables, and mark metadata are
// modeled as interfaces (PageHeap, Sweeper, SizeClasses, MarkMetadata);
// production-usable reference implementations live under internal/.
package centralfree
