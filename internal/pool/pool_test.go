package pool

import "testing"

func TestAllocationHeadroom(t *testing.T) {
	d := Dims{Width: 1920, Height: 1080}
	p, err := New(DefaultSlots, d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, s := range p.slots {
		wantW, wantH := paddedDim(1920), paddedDim(1080)
		if s.AllocW != wantW || s.AllocH != wantH {
			t.Fatalf("slot %d alloc dims = %dx%d, want %dx%d", s.index, s.AllocW, s.AllocH, wantW, wantH)
		}
		if s.ValidW > s.AllocW || s.ValidH > s.AllocH {
			t.Fatalf("slot %d: valid dims exceed alloc dims", s.index)
		}
	}
}

func TestNeedsReallocationWithinHeadroom(t *testing.T) {
	p, _ := New(DefaultSlots, Dims{Width: 1920, Height: 1080})

	// A small bump that stays within the 20% headroom must not require
	// reallocation (§8 boundary behavior).
	within := Dims{Width: 2000, Height: 1100}
	if p.NeedsReallocation(within) {
		t.Fatalf("NeedsReallocation(%+v) = true, want false (within headroom)", within)
	}

	// A jump beyond headroom must report that a reallocation is needed.
	beyond := Dims{Width: 3000, Height: 2000}
	if !p.NeedsReallocation(beyond) {
		t.Fatalf("NeedsReallocation(%+v) = false, want true (beyond headroom)", beyond)
	}
}

func TestSlotOwnershipInvariant(t *testing.T) {
	p, _ := New(3, Dims{Width: 640, Height: 480})

	s1 := p.AcquireFree()
	if s1 == nil {
		t.Fatal("AcquireFree returned nil on a fresh pool")
	}
	p.Publish(s1)

	if got := p.BorrowLatest(); got != s1 {
		t.Fatalf("BorrowLatest = %v, want %v", got, s1)
	}
	if got := p.BorrowLatest(); got != nil {
		t.Fatalf("second BorrowLatest with no new publish = %v, want nil", got)
	}

	free, decoding, ready, held := p.StateCounts()
	if decoding > 1 || held > 1 {
		t.Fatalf("decoding/held counts must each be <=1, got decoding=%d held=%d", decoding, held)
	}
	if free+decoding+ready+held != p.Len() {
		t.Fatalf("state counts %d+%d+%d+%d != pool capacity %d", free, decoding, ready, held, p.Len())
	}
	if held != 1 {
		t.Fatalf("expected exactly 1 held slot after borrow, got %d", held)
	}

	s2 := p.AcquireFree()
	if s2 == nil || s2 == s1 {
		t.Fatalf("AcquireFree must return a slot different from the held one, got %v", s2)
	}
}

func TestBudgetCapsSlotsUnderMemoryLimit(t *testing.T) {
	d := Dims{Width: 3840, Height: 2160}
	perSlot := BytesPerSlot(d)

	// A tiny limit can't even fit one slot; the caller (engine.Engine) is
	// responsible for turning that into a Resource error rather than
	// silently running with zero slots.
	n, capped := clampTest(3, 1, perSlot)
	if !capped || n != 0 {
		t.Fatalf("expected capping to 0 slots, got n=%d capped=%v", n, capped)
	}

	// A generous limit must leave the request untouched.
	n, capped = clampTest(3, 4096, perSlot)
	if capped || n != 3 {
		t.Fatalf("expected no capping under a generous limit, got n=%d capped=%v", n, capped)
	}
}

// clampTest exercises the same arithmetic clock.BudgetSlots performs,
// duplicated here (rather than importing clock, which would be a cyclic
// concern boundary) purely to pin BytesPerSlot's contract.
func clampTest(requested int, memoryLimitMB uint64, bytesPerSlot uint64) (int, bool) {
	budget := uint64(float64(memoryLimitMB<<20) * 0.7)
	maxSlots := int(budget / bytesPerSlot)
	if requested > maxSlots {
		return maxSlots, true
	}
	return requested, false
}
