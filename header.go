// Copyright 2026 The KMA Authors.

package kma

import (
	"encoding/binary"
	"unsafe"
)

// writeHeader encodes the class size c as a 4-byte little-endian header
// at the given header address h. The codec is the sole reason Free needs
// no lookup (spec.md §9, design note "Header codec").
func writeHeader(h unsafe.Pointer, c int32) {
	binary.LittleEndian.PutUint32(unsafe.Slice((*byte)(h), headerBytes), uint32(c))
}

// readHeader decodes the class size previously written at h.
func readHeader(h unsafe.Pointer) (int32, error) {
	c := binary.LittleEndian.Uint32(unsafe.Slice((*byte)(h), headerBytes))
	if c == 0 {
		return 0, ErrInvalidClass
	}
	return int32(c), nil
}

// headerOf returns the header address for a pointer previously returned
// to a caller: four bytes back from ptr.
func headerOf(ptr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) - headerBytes)
}

// userPtr returns the pointer handed to a caller for a header at h.
func userPtr(h unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(h) + headerBytes)
}
