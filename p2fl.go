// Copyright 2026 The KMA Authors.
//
// Grounded on _examples/original_source/skeleton/kma_p2fl.c
// (initializepages, allocate_new_page, allocintofreelist, addtofreelist,
// freeonepage, freekpages), generalized to the reclaiming variant per
// spec.md §9's design note that the page-reclaiming form is the intended
// final one.

package kma

import "unsafe"

// carveMode selects how a freshly acquired page's usable region is
// partitioned into free buffers, chosen by the size of the request that
// triggered the page grow (spec.md §4.3).
type carveMode int

const (
	carveNormal carveMode = iota // requests <= 2048: doubling layout
	carveBig                     // requests <= 4096: start at 4096
	carveHuge                    // requests <= s[9]: start at s[9]
)

func carveModeFor(m int, top int32) carveMode {
	switch {
	case m <= 2048:
		return carveNormal
	case m <= 4096:
		return carveBig
	default:
		_ = top
		return carveHuge
	}
}

type p2flEngine struct{}

func (p2flEngine) metaSize() int { return p2flMetaSize }

// topClassSize: kma_p2fl.c sets "list->bufsizes[9] = (8192 - sizeof(page_t))",
// never subtracting the freelist_t (Size Class Table) footprint — s[9] is
// calibrated for non-root pages, which never carry a table; on the root
// page it is a harmless overestimate since carving there is always the
// plain doubling loop, physically bounded by the page's real extent.
func (p2flEngine) topClassSize() int32 {
	return int32(PageSize - pageHeaderSize - p2flMetaSize)
}

func (p2flEngine) initPage(a *Allocator, hdr *pageHeader, base unsafe.Pointer, root bool, hint int) {
	*p2flLive(base) = 0

	start := uintptr(base) + uintptr(pageHeaderSize) + uintptr(p2flMetaSize)
	if root {
		start += uintptr(sizeClassTableSize)
	}
	max := uintptr(base) + uintptr(PageSize)

	if root {
		carveDoubling(a.table, start, max)
		return
	}

	switch carveModeFor(hint, a.table.sizes[classCount-1]) {
	case carveNormal:
		carveDoubling(a.table, start, max)
	case carveBig:
		carveFixed(a.table, start, max, 4096)
	case carveHuge:
		carveFixed(a.table, start, max, int(a.table.sizes[classCount-1]))
	}
}

// carveDoubling lays out one buffer of each size 16, 32, ... up to the
// largest power of two that fits, then backfills the remainder by
// repeatedly halving and greedily placing buffers largest-first, per
// kma_p2fl.c's NORMAL carving loop (used unconditionally for the root
// page, and for later pages when the triggering request was small).
func carveDoubling(table *sizeClassTable, start, max uintptr) {
	cur := start
	size := 16
	for cur+uintptr(size) < max {
		addToFreeList(table, unsafe.Pointer(cur), int32(size))
		cur += uintptr(size)
		size *= 2
	}
	size /= 2
	for size >= 16 {
		for cur+uintptr(size) <= max {
			addToFreeList(table, unsafe.Pointer(cur), int32(size))
			cur += uintptr(size)
		}
		size /= 2
	}
}

// carveFixed starts at startSize and fills greedily, then halves and
// repeats — kma_p2fl.c's BIG/HUGE carving loop.
func carveFixed(table *sizeClassTable, start, max uintptr, startSize int) {
	cur := start
	size := startSize
	for size >= 16 {
		for cur+uintptr(size) <= max {
			addToFreeList(table, unsafe.Pointer(cur), int32(size))
			cur += uintptr(size)
		}
		size /= 2
	}
}

func addToFreeList(table *sizeClassTable, addr unsafe.Pointer, size int32) {
	for i, s := range table.sizes {
		if s == size {
			pushFree(&table.heads, i, addr)
			return
		}
	}
}

// alloc implements kma_p2fl.c's allocintofreelist: find the smallest
// qualifying class, and if its list is empty, keep scanning upward
// (classes are never split in P2FL).
func (p2flEngine) alloc(a *Allocator, m int) (unsafe.Pointer, error) {
	t := a.table
	start := classForSize(t.sizes, m)
	if start == -1 {
		return nil, nil
	}
	for i := start; i < classCount; i++ {
		if addr := popFree(&t.heads, i); addr != nil {
			writeHeader(addr, t.sizes[i])
			t.allocs++
			page := baseOf(addr)
			*p2flLive(page) += 1
			tracef("p2fl: alloc class=%d page=%p", t.sizes[i], page)
			return userPtr(addr), nil
		}
	}
	return nil, nil
}

// free implements kma_p2fl.c's kma_free body plus freeonepage: push the
// buffer back, decrement counters, and reclaim a drained non-root page.
func (p2flEngine) free(a *Allocator, h unsafe.Pointer, c int32) error {
	addToFreeList(a.table, h, c)
	a.table.allocs--
	page := baseOf(h)
	live := p2flLive(page)
	*live--
	tracef("p2fl: free class=%d page=%p live=%d allocs=%d", c, page, *live, a.table.allocs)

	if a.table.allocs <= 0 {
		return a.releasePool()
	}
	if *live == 0 && page != unsafe.Pointer(a.registry.root) {
		return a.reclaimPage(page)
	}
	return nil
}

// reclaimPage implements kma_p2fl.c's freeonepage: unlink every free-list
// node belonging to page, remove the page from the registry, and return
// it to the provider. The root page is never reclaimed; it hosts the
// Size Class Table.
func (a *Allocator) reclaimPage(page unsafe.Pointer) error {
	t := a.table
	for i := 0; i < classCount; i++ {
		var kept unsafe.Pointer
		addr := t.heads[i]
		t.heads[i] = nil
		steps := 0
		for addr != nil {
			if steps > maxPageSlots*a.registry.count {
				panic("kma: p2fl free list cycle detected")
			}
			steps++
			next := *freeNext(addr)
			if baseOf(addr) != page {
				*freeNext(addr) = kept
				kept = addr
			}
			addr = next
		}
		t.heads[i] = kept
	}

	hdr := pageAt(page)
	handle := a.registry.handles[hdr]
	a.registry.unlink(hdr)
	tracef("p2fl: reclaim page=%p", page)
	return a.provider.ReleasePage(handle)
}
