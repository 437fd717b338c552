// Package pagearena is a reference PageHeap implementation: a single
// OS-backed byte arena cut into page-granularity spans. It exists so
// the rest of this module is runnable end to end rather than only
// type-checkable against fakes; production users of centralfree are
// expected to plug in their own page heap the same way they would
// plug in their own PageHeap.
//
// The mmap/munmap plumbing below is adapted from the teacher's own
// OS memory-mapping layer (sysAlloc/sysReserve/sysMap in mem_bsd.go):
// the same operations, generalized behind golang.org/x/sys/unix
// instead of raw per-OS syscall numbers, since this package is not
// part of a runtime that already owns that layer.
package pagearena
