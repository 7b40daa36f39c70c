// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Modifications (c) 2026 The KMA Authors.

package kma

import "unsafe"

const (
	// PageSize is the fixed frame size the Page Provider hands out. The
	// allocator manages its own frame size independent of the host's
	// native page size, matching the original C skeleton's
	// "#define PAGESIZE 8192".
	PageSize = 8192

	// headerBytes is the size of the inline allocated-buffer header: a
	// 4-byte little-endian class size written just before every pointer
	// Malloc returns.
	headerBytes = 4

	// classCount is the number of size classes, s[0..9].
	classCount = 10

	// slotSize is the BUD bitmap's granularity in bytes: one bit per
	// 16-byte slot.
	slotSize = 16

	// bitmapBytes is the BUD occupancy bitmap size per page: 128 bytes
	// covers 1024 slots of 16 bytes, i.e. a 16 KiB region.
	bitmapBytes = 128

	// pointerAlign is the minimum alignment every pointer Malloc returns
	// must satisfy (invariant 1, §3).
	pointerAlign = 4

	// maxPageSlots is the most distinct buffers one page can hold. A free
	// list spans every owned page, so a walk that runs past maxPageSlots
	// times the number of owned pages has found a cycle, not a long list
	// (assert.h's role in kma_p2fl.c/kma_bud.c, carried forward as a debug
	// panic).
	maxPageSlots = PageSize / slotSize
)

// roundup rounds n up to the next multiple of m. m must be a power of two.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// pageHeaderSize is the in-page footprint of pageHeader, rounded up to
// keep everything that follows it pointer-aligned.
var pageHeaderSize = roundup(int(unsafe.Sizeof(pageHeader{})), pointerAlign)

// sizeClassTableSize is the in-page footprint of sizeClassTable.
var sizeClassTableSize = roundup(int(unsafe.Sizeof(sizeClassTable{})), pointerAlign)
