// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Modifications (c) 2026 The KMA Authors.

package kma

import "unsafe"

// pageHeader sits at the start of every owned page. It carries only the
// registry link; the provider handle that must be passed back on release
// is kept out-of-band in registry.handles, and engine-specific metadata
// (P2FL's live count, BUD's bitmap) immediately follows it in the page's
// own bytes — see p2flLive/budBitmap below. Keeping the handle out of the
// raw page avoids stashing a Go interface value inside memory the garbage
// collector never scans.
type pageHeader struct {
	next *pageHeader
}

// pageAt reinterprets the first bytes of a raw page as a *pageHeader.
func pageAt(base unsafe.Pointer) *pageHeader {
	return (*pageHeader)(base)
}

// baseOf masks p down to its owning page's base address.
func baseOf(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) &^ uintptr(PageSize-1))
}

// metaPtr returns a pointer to the engine metadata region that follows
// the common pageHeader fields inside the page.
func metaPtr(base unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(base) + uintptr(pageHeaderSize))
}

// p2flLive reinterprets the metadata region as P2FL's live-buffer counter.
func p2flLive(base unsafe.Pointer) *int32 {
	return (*int32)(metaPtr(base))
}

// budBitmap reinterprets the metadata region as BUD's occupancy bitmap.
func budBitmap(base unsafe.Pointer) *[bitmapBytes]byte {
	return (*[bitmapBytes]byte)(metaPtr(base))
}

// p2flMetaSize / budMetaSize are the engine metadata footprints, rounded
// up to keep whatever follows (the Size Class Table, or the free region)
// pointer-aligned.
var (
	p2flMetaSize = roundup(4, pointerAlign)
	budMetaSize  = roundup(bitmapBytes, pointerAlign)
)

// registry is the ordered list of pages an Allocator owns, plus the
// bookkeeping needed to hand each one back to its PageProvider. It is the
// process-wide "Page Registry" of spec.md §3, encapsulated per instance
// per the design note in §9 ("implementations should encapsulate the
// registry root behind an allocator instance").
type registry struct {
	root    *pageHeader
	tail    *pageHeader
	handles map[*pageHeader]PageHandle
	count   int
}

func newRegistry() *registry {
	return &registry{handles: map[*pageHeader]PageHandle{}}
}

// append links a freshly acquired page to the tail of the registry.
func (r *registry) append(hdr *pageHeader, handle PageHandle) {
	hdr.next = nil
	if r.root == nil {
		r.root = hdr
	} else {
		r.tail.next = hdr
	}
	r.tail = hdr
	r.handles[hdr] = handle
	r.count++
}

// unlink removes hdr from the registry. hdr must not be the root page.
func (r *registry) unlink(hdr *pageHeader) {
	if r.root == hdr {
		panic("kma: cannot unlink the root page")
	}
	prev := r.root
	for prev != nil && prev.next != hdr {
		prev = prev.next
	}
	if prev == nil {
		return
	}
	prev.next = hdr.next
	if r.tail == hdr {
		r.tail = prev
	}
	delete(r.handles, hdr)
	r.count--
}

// releaseAll walks the registry head to tail, returning every page to its
// provider, then resets the registry to empty (spec.md §4.5 "Release-all").
func (r *registry) releaseAll(p PageProvider) error {
	var firstErr error
	for hdr := r.root; hdr != nil; {
		next := hdr.next
		handle := r.handles[hdr]
		if err := p.ReleasePage(handle); err != nil && firstErr == nil {
			firstErr = err
		}
		hdr = next
	}
	r.root = nil
	r.tail = nil
	r.handles = map[*pageHeader]PageHandle{}
	r.count = 0
	return firstErr
}
