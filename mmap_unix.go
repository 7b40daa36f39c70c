// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.
// Modifications (c) 2026 The KMA Authors.

//go:build unix

package kma

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapPage requests a single PageSize-aligned, anonymous, shared mapping
// from the kernel. Grounded on Giulio2002-gdbx's mmap_unix.go, which wraps
// the same PROT_READ|PROT_WRITE / MAP_SHARED|MAP_ANON combination through
// golang.org/x/sys/unix instead of the raw syscall package the teacher
// used directly.
//
// mmap only guarantees alignment to the host's native page size, which
// may be smaller than PageSize, so a slightly larger region is mapped and
// trimmed down to the PageSize-aligned slice within it (the standard
// "overallocate and trim" technique for aligned mmap).
func mmapPage(size int) ([]byte, error) {
	raw, err := unix.Mmap(-1, 0, size+PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, &mmapError{"mmap", err}
	}

	addr := uintptr(unsafe.Pointer(&raw[0]))
	aligned := roundup(int(addr), PageSize)
	front := aligned - int(addr)
	if front > 0 {
		if err := unix.Munmap(raw[:front]); err != nil {
			return nil, &mmapError{"munmap (front trim)", err}
		}
	}
	back := front + size
	if back < len(raw) {
		if err := unix.Munmap(raw[back:]); err != nil {
			return nil, &mmapError{"munmap (back trim)", err}
		}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr)+uintptr(front))), size), nil
}

func unmapPage(addr unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(addr), size)
	if err := unix.Munmap(b); err != nil {
		return &mmapError{"munmap", err}
	}
	return nil
}
