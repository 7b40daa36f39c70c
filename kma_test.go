// Copyright 2026 The KMA Authors.
//
// Scenario tests are the six concrete scenarios of spec.md §8. The
// randomized harness (TestRandomP2FL/TestRandomBUD) is grounded on
// all_test.go's test1, which drives a random sequence of allocations and
// frees with github.com/cznic/mathutil's FC32 generator, the teacher's
// own test dependency.

package kma

import (
	"testing"
	"unsafe"

	"github.com/cznic/mathutil"
)

func newP2FL() (*Allocator, *testProvider) {
	p := newTestProvider()
	return New(WithPolicy(P2FL), WithPageProvider(p)), p
}

func newBUD() (*Allocator, *testProvider) {
	p := newTestProvider()
	return New(WithPolicy(BUD), WithPageProvider(p)), p
}

// Scenario 1: single small allocation.
func TestSingleSmallAllocation(t *testing.T) {
	a, p := newP2FL()
	b, err := a.Malloc(12)
	if err != nil || b == nil {
		t.Fatalf("Malloc(12) = %v, %v", b, err)
	}
	h := headerOf(unsafe.Pointer(&b[0]))
	c, err := readHeader(h)
	if err != nil || c != 16 {
		t.Fatalf("header = %v, %v; want 16", c, err)
	}
	if err := a.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
	if p.outstanding() != 0 {
		t.Fatalf("%d page(s) leaked", p.outstanding())
	}
}

// Scenario 2: doubling fill (P2FL NORMAL) carves the root page with one
// buffer of each size 16, 32, 64, ... before backfilling larger classes,
// so its 16-class list holds exactly one buffer. The second 16-byte
// request must therefore be served by an upward scan onto the 32-class
// list (P2FL never splits) rather than by growing a second page.
func TestDoublingFillP2FL(t *testing.T) {
	a, p := newP2FL()
	sizes := []int{12, 12, 28, 60}
	var bufs [][]byte
	for i, n := range sizes {
		b, err := a.Malloc(n)
		if err != nil || b == nil {
			t.Fatalf("Malloc(%d) = %v, %v", n, b, err)
		}
		bufs = append(bufs, b)
		if got := p.outstanding(); got != 1 {
			t.Fatalf("after malloc #%d: outstanding pages = %d, want 1 (no page-grow expected)", i+1, got)
		}
	}

	c, err := readHeader(headerOf(unsafe.Pointer(&bufs[0][0])))
	if err != nil || c != 16 {
		t.Fatalf("first 16-byte request: header = %v, %v; want 16", c, err)
	}
	c, err = readHeader(headerOf(unsafe.Pointer(&bufs[1][0])))
	if err != nil || c != 32 {
		t.Fatalf("second 16-byte request: header = %v, %v; want 32 (upward scan onto the 32-class, no split)", c, err)
	}

	for _, b := range bufs {
		if err := a.Free(b); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
	if p.outstanding() != 0 {
		t.Fatalf("outstanding pages = %d, want 0 (pool is released once allocs reaches zero)", p.outstanding())
	}
}

// Scenario 3: buddy split then coalesce.
func TestBuddySplitCoalesceBUD(t *testing.T) {
	a, p := newBUD()
	av, err := a.Malloc(12)
	if err != nil || av == nil {
		t.Fatalf("Malloc(a) = %v, %v", av, err)
	}
	bv, err := a.Malloc(12)
	if err != nil || bv == nil {
		t.Fatalf("Malloc(b) = %v, %v", bv, err)
	}
	for _, buf := range [][]byte{av, bv} {
		c, err := readHeader(headerOf(unsafe.Pointer(&buf[0])))
		if err != nil || c != 16 {
			t.Fatalf("header = %v, %v; want 16", c, err)
		}
	}
	page := baseOf(unsafe.Pointer(&av[0]))
	if rangeAllFree(page, slotOffset(page, unsafe.Pointer(&av[0])), 16) {
		t.Fatalf("a's bitmap region reads free while a is still live")
	}
	if err := a.Free(av); err != nil {
		t.Fatalf("Free(a): %v", err)
	}
	if err := a.Free(bv); err != nil {
		t.Fatalf("Free(b): %v", err)
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
	if p.outstanding() != 0 {
		t.Fatalf("%d page(s) leaked", p.outstanding())
	}
}

// Scenario 4: buddy not-a-buddy — freeing the outer two of three
// same-origin 16-byte buffers must not coalesce either of them across the
// still-live middle one: a's buddy is b, so a stays on the 16-class list,
// while c may merge only with its own free buddy beyond it.
func TestBuddyNotABuddyBUD(t *testing.T) {
	a, _ := newBUD()
	av, err := a.Malloc(12)
	if err != nil || av == nil {
		t.Fatalf("Malloc(a): %v, %v", av, err)
	}
	bv, err := a.Malloc(12)
	if err != nil || bv == nil {
		t.Fatalf("Malloc(b): %v, %v", bv, err)
	}
	cv, err := a.Malloc(12)
	if err != nil || cv == nil {
		t.Fatalf("Malloc(c): %v, %v", cv, err)
	}

	page := baseOf(unsafe.Pointer(&bv[0]))
	bOff := slotOffset(page, unsafe.Pointer(&bv[0]))

	if err := a.Free(av); err != nil {
		t.Fatalf("Free(a): %v", err)
	}
	if err := a.Free(cv); err != nil {
		t.Fatalf("Free(c): %v", err)
	}

	if rangeAllFree(page, bOff, 16) {
		t.Fatalf("b's bitmap region went free, but b is still live")
	}

	t16 := classIndex(a.table.sizes, 16)
	aHdr := headerOf(unsafe.Pointer(&av[0]))
	cHdr := headerOf(unsafe.Pointer(&cv[0]))
	found := 0
	for n := a.table.heads[t16]; n != nil; n = *freeNext(n) {
		if n == aHdr || n == cHdr {
			found++
		}
	}
	if found == 0 {
		t.Fatalf("neither a nor c's header address found on the 16-class free list")
	}

	if err := a.Free(bv); err != nil {
		t.Fatalf("Free(b): %v", err)
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
}

// Scenario 5: page reclamation (P2FL) — a fully-drained non-root page is
// returned to the provider while the root page, still live, is kept.
func TestPageReclamationP2FL(t *testing.T) {
	a, p := newP2FL()

	// Allocate 12-byte buffers until one lands off the root page (P2FL
	// scans upward, so this uses up every class on the root page and
	// forces a page grow), then drain only the grown page.
	var rootBufs, grownBufs [][]byte
	rootPage := func() unsafe.Pointer { return baseOf(unsafe.Pointer(a.registry.root)) }

	first, err := a.Malloc(12)
	if err != nil || first == nil {
		t.Fatalf("Malloc = %v, %v", first, err)
	}
	rootBufs = append(rootBufs, first)
	root := rootPage()

	for {
		b, err := a.Malloc(12)
		if err != nil || b == nil {
			t.Fatalf("Malloc = %v, %v", b, err)
		}
		if baseOf(unsafe.Pointer(&b[0])) != root {
			grownBufs = append(grownBufs, b)
			break
		}
		rootBufs = append(rootBufs, b)
	}
	before := p.outstanding()
	if before < 2 {
		t.Fatalf("expected at least 2 pages, got %d", before)
	}

	for _, b := range grownBufs {
		if err := a.Free(b); err != nil {
			t.Fatalf("Free(grown): %v", err)
		}
	}
	if p.outstanding() != before-1 {
		t.Fatalf("outstanding pages = %d, want %d (grown page should be reclaimed)", p.outstanding(), before-1)
	}
	if a.Allocs() <= 0 {
		t.Fatalf("Allocs() = %d, want > 0 (root page still live)", a.Allocs())
	}

	for _, b := range rootBufs {
		if err := a.Free(b); err != nil {
			t.Fatalf("Free(root): %v", err)
		}
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
	if p.outstanding() != 0 {
		t.Fatalf("%d page(s) leaked", p.outstanding())
	}
}

// Scenario 6: large escape (BUD).
func TestLargeEscapeBUD(t *testing.T) {
	a, p := newBUD()
	before := p.outstanding()

	b, err := a.Malloc(9000)
	if err == ErrOOM || (err == nil && b == nil) {
		t.Skip("implementation chose to return NULL (ErrOOM) for an oversized request")
	}
	if err != nil {
		t.Fatalf("Malloc(9000): %v", err)
	}
	if len(b) != 9000 {
		t.Fatalf("len(b) = %d, want 9000", len(b))
	}
	if p.outstanding() != before+1 {
		t.Fatalf("expected a dedicated page to be acquired")
	}
	if err := a.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if p.outstanding() != before {
		t.Fatalf("dedicated page was not returned to the provider")
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0 (large escape must not touch the main pool)", a.Allocs())
	}
}

func TestMallocZero(t *testing.T) {
	a, _ := newP2FL()
	b, err := a.Malloc(0)
	if err != nil {
		t.Fatalf("Malloc(0): %v", err)
	}
	if b != nil {
		t.Fatalf("Malloc(0) = %v, want nil", b)
	}
}

func TestInvariantClassSizesArePowersOfTwoOrTop(t *testing.T) {
	for _, policy := range []Policy{P2FL, BUD} {
		a := New(WithPolicy(policy), WithPageProvider(newTestProvider()))
		if err := a.ensureInit(); err != nil {
			t.Fatalf("%s: ensureInit: %v", policy, err)
		}
		for i := 0; i < classCount-1; i++ {
			s := a.table.sizes[i]
			if s == 0 || (1<<uint(mathutil.BitLen(int(s)-1))) != int(s) {
				t.Fatalf("%s: class %d size %d is not a power of two", policy, i, s)
			}
		}
	}
}

// TestRandomP2FL and TestRandomBUD drive a random sequence of mallocs and
// frees, checking invariant 4 (allocs == outstanding buffers) throughout
// and a fully drained, fully released pool at the end — grounded on
// all_test.go's test1.
func testRandom(t *testing.T, policy Policy) {
	p := newTestProvider()
	a := New(WithPolicy(policy), WithPageProvider(p))

	rng, err := mathutil.NewFC32(1, 512, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(42)

	var live [][]byte
	const rounds = 4000
	for i := 0; i < rounds; i++ {
		if len(live) == 0 || rng.Next()%3 != 0 {
			n := rng.Next()
			b, err := a.Malloc(n)
			if err != nil {
				t.Fatalf("round %d: Malloc(%d): %v", i, n, err)
			}
			if b != nil {
				live = append(live, b)
			}
		} else {
			idx := rng.Next() % len(live)
			b := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			if err := a.Free(b); err != nil {
				t.Fatalf("round %d: Free: %v", i, err)
			}
		}
		if got, want := a.Allocs(), len(live); got != want {
			t.Fatalf("round %d: Allocs() = %d, want %d", i, got, want)
		}
	}
	for _, b := range live {
		if err := a.Free(b); err != nil {
			t.Fatalf("final Free: %v", err)
		}
	}
	if a.Allocs() != 0 {
		t.Fatalf("Allocs() = %d, want 0", a.Allocs())
	}
	if p.outstanding() != 0 {
		t.Fatalf("%d page(s) leaked after drain", p.outstanding())
	}
}

func TestRandomP2FL(t *testing.T) { testRandom(t, P2FL) }
func TestRandomBUD(t *testing.T)  { testRandom(t, BUD) }

func TestFreeMatchingNRestoresAllocs(t *testing.T) {
	a, _ := newP2FL()
	before := a.Allocs()
	b, err := a.Malloc(100)
	if err != nil || b == nil {
		t.Fatalf("Malloc: %v, %v", b, err)
	}
	if err := a.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if a.Allocs() != before {
		t.Fatalf("Allocs() = %d, want %d", a.Allocs(), before)
	}
}
