// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Modifications (c) 2026 The KMA Authors.

package kma

import "unsafe"

// PageHandle is whatever a PageProvider needs to release a page later. It
// carries no behavior; providers define their own concrete type.
type PageHandle interface {
	isPageHandle()
}

// PageProvider is the external collaborator that yields and releases
// fixed-size page frames (spec.md §6). The allocator core never talks to
// the OS directly; it only talks through this contract, which is what
// lets tests swap in an in-memory provider.
type PageProvider interface {
	// AcquirePage returns a PageSize-aligned, PageSize-byte frame.
	AcquirePage() (handle PageHandle, base unsafe.Pointer, size int, err error)

	// ReleasePage returns a page previously obtained from AcquirePage.
	// Accessing base after this call is undefined.
	ReleasePage(handle PageHandle) error

	// BaseOf masks any pointer into a page down to that page's base,
	// equivalent to masking by PageSize-1.
	BaseOf(p unsafe.Pointer) unsafe.Pointer
}

// mmapHandle is the PageHandle returned by the default provider.
type mmapHandle struct {
	slab []byte
}

func (mmapHandle) isPageHandle() {}

// mmapProvider is the default PageProvider, backed by anonymous,
// shared memory mappings. Grounded on Giulio2002-gdbx's mmap_unix.go /
// mmap_windows.go, which wrap golang.org/x/sys rather than the raw
// syscall package the teacher used.
type mmapProvider struct{}

// NewMmapProvider returns the default, OS-backed PageProvider.
func NewMmapProvider() PageProvider { return mmapProvider{} }

func (mmapProvider) AcquirePage() (PageHandle, unsafe.Pointer, int, error) {
	b, err := mmapPage(PageSize)
	if err != nil {
		return nil, nil, 0, err
	}
	return mmapHandle{slab: b}, unsafe.Pointer(&b[0]), PageSize, nil
}

func (mmapProvider) ReleasePage(handle PageHandle) error {
	h, ok := handle.(mmapHandle)
	if !ok || len(h.slab) == 0 {
		return nil
	}
	return unmapPage(unsafe.Pointer(&h.slab[0]), len(h.slab))
}

func (mmapProvider) BaseOf(p unsafe.Pointer) unsafe.Pointer { return baseOf(p) }
