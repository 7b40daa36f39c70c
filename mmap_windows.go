// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.
// Modifications (c) 2026 The KMA Authors.

//go:build windows

package kma

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapPage requests a single page-sized anonymous region via VirtualAlloc.
// VirtualAlloc's allocation granularity (64 KiB) is always a multiple of
// PageSize, so unlike the POSIX path no trim-to-alignment dance is needed;
// this follows golang.org/x/sys/windows the same way Giulio2002-gdbx's
// mmap_windows.go does, just through VirtualAlloc/VirtualFree rather than
// CreateFileMapping/MapViewOfFile, since there is no backing file here.
func mmapPage(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, &mmapError{"VirtualAlloc", err}
	}
	if addr&uintptr(PageSize-1) != 0 {
		windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
		return nil, &mmapError{"VirtualAlloc", errUnalignedPage}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func unmapPage(addr unsafe.Pointer, size int) error {
	if err := windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE); err != nil {
		return &mmapError{"VirtualFree", err}
	}
	return nil
}
