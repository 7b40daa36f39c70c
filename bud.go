// Copyright 2026 The KMA Authors.
//
// Grounded on _examples/original_source/skeleton/kma_bud.c (initializepages,
// allocate_new_page, get_free_block, addtofreelist, update_bitmap,
// coalesce_blocks, test_nth_bit).

package kma

import "unsafe"

type budEngine struct{}

func (budEngine) metaSize() int { return budMetaSize }

// topClassSize: kma_bud.c computes
// "PAGESIZE - sizeof(kpage_t) - sizeof(page_t) - sizeof(freelist_t)"
// identically in both initializepages and allocate_new_page, explicitly
// subtracting the Size Class Table's footprint even on pages that never
// carry one, "for consistency" (the original's own comment) — so that
// bitmap/buddy geometry is uniform across every page in the pool.
func (budEngine) topClassSize() int32 {
	return int32(PageSize - pageHeaderSize - budMetaSize - sizeClassTableSize)
}

func (budEngine) initPage(a *Allocator, hdr *pageHeader, base unsafe.Pointer, root bool, hint int) {
	_ = hint
	bm := budBitmap(base)
	for i := range bm {
		bm[i] = 0
	}
	start := unsafe.Pointer(uintptr(base) + uintptr(pageHeaderSize) + uintptr(budMetaSize) + uintptr(sizeClassTableSize))
	addToFreeList(a.table, start, a.table.sizes[classCount-1])
}

// slotOffset is the byte offset of p within page's usable (bitmap-covered)
// region, whose slot 0 starts at page_base + sizeof(PageHeader) +
// sizeof(SizeClassTable) (spec.md §4.4), applied uniformly on every page.
func slotOffset(page, p unsafe.Pointer) int {
	base := uintptr(page) + uintptr(pageHeaderSize) + uintptr(budMetaSize) + uintptr(sizeClassTableSize)
	return int(uintptr(p) - base)
}

func setBitRange(page unsafe.Pointer, byteOffset, size int, busy bool) {
	bm := budBitmap(page)
	start := byteOffset / slotSize
	end := start + size/slotSize
	for i := start; i < end; i++ {
		mask := byte(1 << uint(7-i%8))
		if busy {
			bm[i/8] |= mask
		} else {
			bm[i/8] &^= mask
		}
	}
}

// rangeAllFree reports whether every bitmap bit covering [byteOffset,
// byteOffset+size) is clear.
func rangeAllFree(page unsafe.Pointer, byteOffset, size int) bool {
	bm := budBitmap(page)
	start := byteOffset / slotSize
	end := start + size/slotSize
	for i := start; i < end; i++ {
		if bm[i/8]&(1<<uint(7-i%8)) != 0 {
			return false
		}
	}
	return true
}

// alloc implements kma_bud.c's get_free_block: locate the smallest
// qualifying class, walk upward to the first non-empty list, then split
// down one level at a time until a block of the target class is in hand.
func (budEngine) alloc(a *Allocator, m int) (unsafe.Pointer, error) {
	t := a.table
	if int32(m) > t.sizes[classCount-1] {
		return nil, nil
	}
	i := classForSize(t.sizes, m)
	if i == -1 {
		return nil, nil
	}
	j := i
	for t.heads[j] == nil {
		j++
		if j == classCount {
			return nil, nil
		}
	}
	for j > i {
		node := popFree(&t.heads, j)
		if j == classCount-1 {
			// Top-class split special case (spec.md §4.4): only a
			// single s[8] buddy is produced; the non-power-of-two
			// remainder rides along attached to it, unaddressed.
			oldHead := t.heads[j-1]
			*freeNext(node) = oldHead
			t.heads[j-1] = node
		} else {
			lower := node
			upper := unsafe.Pointer(uintptr(node) + uintptr(t.sizes[j-1]))
			oldHead := t.heads[j-1]
			*freeNext(upper) = oldHead
			*freeNext(lower) = upper
			t.heads[j-1] = lower
		}
		j--
	}
	r := popFree(&t.heads, i)
	writeHeader(r, t.sizes[i])
	t.allocs++
	page := baseOf(r)
	setBitRange(page, slotOffset(page, r), int(t.sizes[i]), true)
	tracef("bud: alloc class=%d page=%p", t.sizes[i], page)
	return userPtr(r), nil
}

// free implements kma_bud.c's kma_free body (minus the large-allocation
// branch, handled by the Allocator before reaching the engine): clear the
// bitmap, coalesce while possible, then push the final block.
func (budEngine) free(a *Allocator, h unsafe.Pointer, c int32) error {
	t := a.table
	page := baseOf(h)
	off := slotOffset(page, h)
	setBitRange(page, off, int(c), false)

	for int(c)*2 <= int(t.sizes[classCount-1]) {
		var buddyOff int
		if (off/int(c))%2 == 0 {
			buddyOff = off + int(c)
		} else {
			buddyOff = off - int(c)
		}
		if !rangeAllFree(page, buddyOff, int(c)) {
			break
		}
		idx := classIndex(t.sizes, c)
		buddy := unsafe.Pointer(uintptr(page) + uintptr(pageHeaderSize) + uintptr(budMetaSize) + uintptr(sizeClassTableSize) + uintptr(buddyOff))
		// The bitmap just reported this buddy entirely free, so it must be
		// sitting on free list idx; if it isn't, the bitmap and the free
		// lists have gone out of sync and continuing would corrupt the pool.
		if !unlinkFromList(t, idx, buddy, maxPageSlots*a.registry.count) {
			panic("kma: bud bitmap/free-list mismatch during coalesce")
		}
		if uintptr(buddy) < uintptr(h) {
			h = buddy
			off = buddyOff
		}
		c *= 2
	}

	addToFreeList(t, h, c)
	t.allocs--
	tracef("bud: free class=%d page=%p allocs=%d", c, page, t.allocs)
	if t.allocs <= 0 {
		return a.releasePool()
	}
	return nil
}

func classIndex(sizes [classCount]int32, c int32) int {
	for i, s := range sizes {
		if s == c {
			return i
		}
	}
	return -1
}

// unlinkFromList removes addr from free list idx if present, reporting
// whether it was found. A walk longer than limit steps panics as a cycle.
func unlinkFromList(t *sizeClassTable, idx int, addr unsafe.Pointer, limit int) bool {
	if t.heads[idx] == addr {
		t.heads[idx] = *freeNext(addr)
		return true
	}
	prev := t.heads[idx]
	steps := 0
	for prev != nil {
		if steps > limit {
			panic("kma: bud free list cycle detected")
		}
		steps++
		next := *freeNext(prev)
		if next == addr {
			*freeNext(prev) = *freeNext(addr)
			return true
		}
		prev = next
	}
	return false
}
