// Copyright 2026 The KMA Authors.

package kma

import "unsafe"

// sizeClassTable is created once, on the first owned page, immediately
// after that page's Page Header (spec.md §4.2). It holds the global
// allocation counter and, for each of the ten size classes, the class
// size and the head of its free list.
//
// Free-list heads are raw pointers into mmap'd page memory, never into
// the Go heap, so storing them inside other mmap'd page memory (as the
// free-list nodes themselves do) carries no GC-visibility hazard.
type sizeClassTable struct {
	allocs int32
	sizes  [classCount]int32
	heads  [classCount]unsafe.Pointer
}

// tableAt reinterprets the bytes immediately following the root page's
// header and engine metadata as the sizeClassTable.
func tableAt(rootBase unsafe.Pointer, metaSize int) *sizeClassTable {
	return (*sizeClassTable)(unsafe.Pointer(uintptr(rootBase) + uintptr(pageHeaderSize) + uintptr(metaSize)))
}

// classSizes returns s[0..9]: s[0..8] = 16, 32, ..., 4096; s[9] is the
// policy-defined top class, supplied by the active engine's
// topClassSize (the two engines compute it differently — see engine.go).
func classSizes(top int32) [classCount]int32 {
	var s [classCount]int32
	size := 16
	for i := 0; i < classCount-1; i++ {
		s[i] = int32(size)
		size *= 2
	}
	s[classCount-1] = top
	return s
}

// classForSize returns the index of the smallest class able to hold m
// bytes, or -1 if m exceeds every class (including the top one).
func classForSize(sizes [classCount]int32, m int) int {
	for i, s := range sizes {
		if int(s) >= m {
			return i
		}
	}
	return -1
}

// pushFree links addr onto the front of the free list at heads[i].
func pushFree(heads *[classCount]unsafe.Pointer, i int, addr unsafe.Pointer) {
	*freeNext(addr) = heads[i]
	heads[i] = addr
}

// popFree detaches and returns the head of free list i, or nil if empty.
func popFree(heads *[classCount]unsafe.Pointer, i int) unsafe.Pointer {
	addr := heads[i]
	if addr == nil {
		return nil
	}
	heads[i] = *freeNext(addr)
	return addr
}

// freeNext reinterprets a free buffer's first machine word as the
// intrusive next-pointer of its free list (spec.md §3 "Free-list node").
func freeNext(addr unsafe.Pointer) *unsafe.Pointer {
	return (*unsafe.Pointer)(addr)
}
