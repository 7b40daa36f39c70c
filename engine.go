// Copyright 2026 The KMA Authors.

package kma

import "unsafe"

// Policy selects which allocation engine an Allocator runs.
type Policy int

const (
	// P2FL is the power-of-two free-list policy with per-page reference
	// counting and page reclamation (spec.md §4.3).
	P2FL Policy = iota
	// BUD is the binary buddy policy with bitmap-driven coalescing
	// (spec.md §4.4).
	BUD
)

func (p Policy) String() string {
	switch p {
	case P2FL:
		return "P2FL"
	case BUD:
		return "BUD"
	default:
		return "unknown"
	}
}

// engine is the policy-specific half of the allocator: carving, splitting,
// coalescing, free-list management and page reclamation. Both engines
// share the Page Registry, the Size Class Table and the Header Codec;
// only this contract differs between them (spec.md §2).
type engine interface {
	// metaSize is the per-page footprint this engine's metadata needs,
	// immediately following the common pageHeader.
	metaSize() int

	// topClassSize computes s[9], the policy-defined top class. The two
	// engines compute this differently: BUD subtracts the Size Class
	// Table's footprint uniformly on every page "for consistency" (its
	// own original comment), while P2FL never subtracts it at all,
	// because P2FL's s[9] is calibrated for non-root pages, which never
	// carry a table. See DESIGN.md.
	topClassSize() int32

	// initPage seeds a freshly registered page's free lists/bitmap. root
	// is true only for the very first page, which also carries the
	// Size Class Table.
	initPage(a *Allocator, hdr *pageHeader, base unsafe.Pointer, root bool, hint int)

	// alloc attempts to satisfy a request of m bytes (including header)
	// purely from existing pages. Returns nil, nil on a clean miss.
	alloc(a *Allocator, m int) (unsafe.Pointer, error)

	// free returns the buffer at header address h, of class size c, to
	// the engine. It must decrement the table's allocs counter exactly
	// once.
	free(a *Allocator, h unsafe.Pointer, c int32) error
}
