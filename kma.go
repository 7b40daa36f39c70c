// Copyright 2026 The KMA Authors.
//
// Public API, grounded on memory.go's Allocator / Malloc / Free /
// UnsafeMalloc / UnsafeFree dual surface, retargeted onto the P2FL/BUD
// engine contract (engine.go) in place of cznic/memory's own size-class
// scheme.

package kma

import "unsafe"

// largeAllocMarker is written as the 4-byte header of a BUD large
// allocation instead of a real class size — no class size can ever equal
// it, since every class is strictly smaller than PageSize. This is the
// "reserved header flag" detection mechanism spec.md §4.4 allows as an
// alternative to inspecting the caller-supplied advisory size.
const largeAllocMarker int32 = -1

// Allocator is a single allocation pool running one policy (P2FL or BUD).
// Its zero value is not ready for use; construct one with New.
type Allocator struct {
	policy   Policy
	provider PageProvider
	eng      engine

	registry *registry
	table    *sizeClassTable
	large    map[unsafe.Pointer]PageHandle

	callDepth int32
}

// Option configures an Allocator built by New.
type Option func(*Allocator)

// WithPolicy selects the allocation policy. The default is P2FL.
func WithPolicy(p Policy) Option { return func(a *Allocator) { a.policy = p } }

// WithPageProvider overrides the default OS-backed PageProvider, chiefly
// for tests.
func WithPageProvider(p PageProvider) Option { return func(a *Allocator) { a.provider = p } }

// New constructs an Allocator. No pages are acquired until the first
// Malloc/UnsafeMalloc call (spec.md §4.1 "ensure the registry is
// initialised").
func New(opts ...Option) *Allocator {
	a := &Allocator{policy: P2FL}
	for _, opt := range opts {
		opt(a)
	}
	if a.provider == nil {
		a.provider = NewMmapProvider()
	}
	switch a.policy {
	case BUD:
		a.eng = budEngine{}
	default:
		a.eng = p2flEngine{}
	}
	return a
}

func (a *Allocator) enter() {
	a.callDepth++
	if a.callDepth > 1 {
		panic("kma: Allocator is not re-entrant")
	}
}

func (a *Allocator) leave() { a.callDepth-- }

// ensureInit lazily performs initializepages(): acquire the first page,
// install its header, seed the Size Class Table, and carve the initial
// free region.
func (a *Allocator) ensureInit() error {
	if a.table != nil {
		return nil
	}
	handle, base, _, err := a.provider.AcquirePage()
	if err != nil {
		return ErrOOM
	}
	hdr := pageAt(base)
	a.registry = newRegistry()
	a.registry.append(hdr, handle)

	a.table = tableAt(base, a.eng.metaSize())
	a.table.allocs = 0
	a.table.sizes = classSizes(a.eng.topClassSize())
	for i := range a.table.heads {
		a.table.heads[i] = nil
	}
	a.eng.initPage(a, hdr, base, true, 0)
	tracef("kma: init policy=%s page=%p", a.policy, base)
	return nil
}

// growPage implements allocate_new_page(): append one fresh page to the
// registry's tail and carve it per policy, using hint (the effective
// request size) to pick P2FL's NORMAL/BIG/HUGE carving mode.
func (a *Allocator) growPage(hint int) error {
	handle, base, _, err := a.provider.AcquirePage()
	if err != nil {
		return ErrOOM
	}
	hdr := pageAt(base)
	a.registry.append(hdr, handle)
	a.eng.initPage(a, hdr, base, false, hint)
	tracef("kma: grow page=%p", base)
	return nil
}

// releasePool implements freekpages(): release every owned page and
// forget the pool entirely. Dedicated BUD large-allocation pages are not
// touched — they are tracked independently of the main pool (scenario 6,
// spec.md §8: a large escape "leaves the main pool untouched").
func (a *Allocator) releasePool() error {
	tracef("kma: pool drained, releasing %d page(s)", a.registry.count)
	err := a.registry.releaseAll(a.provider)
	a.table = nil
	return err
}

// Malloc allocates n bytes and returns a byte slice over the allocated
// memory. The memory is not initialized. Malloc panics for n < 0 and
// returns (nil, nil) for n == 0 (spec.md §6: "implementation-defined;
// tests must accept either").
//
// The returned slice may be resliced up to its capacity (the buffer's
// full class size, minus the header) but must not be appended past that
// capacity before being passed to Free, for the same reason documented on
// cznic/memory's Malloc.
func (a *Allocator) Malloc(n int) ([]byte, error) {
	if n < 0 {
		panic("kma: invalid malloc size")
	}
	if n == 0 {
		return nil, nil
	}
	a.enter()
	defer a.leave()

	ptr, capacity, err := a.malloc(n)
	if err != nil || ptr == nil {
		return nil, err
	}
	full := unsafe.Slice((*byte)(ptr), capacity)
	return full[:n], nil
}

// UnsafeMalloc is like Malloc except it returns an unsafe.Pointer.
func (a *Allocator) UnsafeMalloc(n int) (unsafe.Pointer, error) {
	if n < 0 {
		panic("kma: invalid malloc size")
	}
	if n == 0 {
		return nil, nil
	}
	a.enter()
	defer a.leave()

	ptr, _, err := a.malloc(n)
	return ptr, err
}

// malloc is the shared core of Malloc/UnsafeMalloc: special-case BUD's
// large-allocation escape (which never touches the main pool), otherwise
// ensure the pool exists and try the engine, growing and retrying exactly
// once on a miss (spec.md §4.1).
func (a *Allocator) malloc(n int) (ptr unsafe.Pointer, capacity int, err error) {
	m := n + headerBytes
	if a.policy == BUD && int32(m) > a.eng.topClassSize() {
		ptr, err = a.mallocLarge(n)
		return ptr, n, err
	}

	if err = a.ensureInit(); err != nil {
		return nil, 0, err
	}

	ptr, err = a.eng.alloc(a, m)
	if err != nil {
		return nil, 0, err
	}
	if ptr == nil {
		if err = a.growPage(m); err != nil {
			return nil, 0, err
		}
		ptr, err = a.eng.alloc(a, m)
		if err != nil {
			return nil, 0, err
		}
		if ptr == nil {
			return nil, 0, ErrOOM
		}
	}

	class, err := readHeader(headerOf(ptr))
	if err != nil {
		return nil, 0, err
	}
	return ptr, int(class) - headerBytes, nil
}

// mallocLarge implements kma_bud.c's large-allocation branch: a single
// dedicated page, tracked out of band in a.large (rather than embedding
// the PageHandle inside the page itself — see page.go's doc comment on
// why handles stay out of raw page memory).
func (a *Allocator) mallocLarge(n int) (unsafe.Pointer, error) {
	handle, base, size, err := a.provider.AcquirePage()
	if err != nil {
		return nil, ErrOOM
	}
	if n+headerBytes > size {
		a.provider.ReleasePage(handle)
		return nil, ErrOOM
	}
	if a.large == nil {
		a.large = map[unsafe.Pointer]PageHandle{}
	}
	a.large[base] = handle
	writeHeader(base, largeAllocMarker)
	tracef("bud: large alloc n=%d page=%p", n, base)
	return userPtr(base), nil
}

// Free deallocates memory acquired from Malloc.
func (a *Allocator) Free(b []byte) error {
	b = b[:cap(b)]
	if len(b) == 0 {
		return nil
	}
	a.enter()
	defer a.leave()
	return a.free(unsafe.Pointer(&b[0]))
}

// UnsafeFree is like Free except its argument is an unsafe.Pointer, which
// must have been acquired from UnsafeMalloc.
func (a *Allocator) UnsafeFree(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	a.enter()
	defer a.leave()
	return a.free(p)
}

func (a *Allocator) free(ptr unsafe.Pointer) error {
	if a.policy == BUD {
		if handle, ok := a.large[baseOf(ptr)]; ok {
			page := baseOf(ptr)
			delete(a.large, page)
			tracef("bud: large free page=%p", page)
			return a.provider.ReleasePage(handle)
		}
	}

	h := headerOf(ptr)
	c, err := readHeader(h)
	if err != nil {
		return err
	}
	if a.table == nil {
		return ErrClosed
	}
	return a.eng.free(a, h, c)
}

// Close releases every page the Allocator owns, including any BUD
// large-allocation pages still outstanding, and resets it to a fresh,
// uninitialized state.
func (a *Allocator) Close() error {
	var firstErr error
	if a.table != nil {
		if err := a.releasePool(); err != nil {
			firstErr = err
		}
	}
	for base, handle := range a.large {
		if err := a.provider.ReleasePage(handle); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.large, base)
	}
	return firstErr
}

// Allocs reports the number of currently outstanding buffers in the main
// pool (spec.md invariant 4). It does not count BUD large allocations.
func (a *Allocator) Allocs() int {
	if a.table == nil {
		return 0
	}
	return int(a.table.allocs)
}

// defaultAllocator is the package-level singleton used by the free functions
// below, per spec.md §9's design note: "the registry root is process-
// wide; implementations should encapsulate it behind an allocator
// instance and expose a default singleton only at the public-API
// boundary."
var defaultAllocator = New()

// Malloc allocates from the process-wide default Allocator (P2FL policy).
func Malloc(n int) ([]byte, error) { return defaultAllocator.Malloc(n) }

// Free returns a buffer to the process-wide default Allocator.
func Free(b []byte) error { return defaultAllocator.Free(b) }
