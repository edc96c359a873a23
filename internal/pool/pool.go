package pool

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// Alignment is the byte alignment every plane's backing array is padded to
// (§4.1 "64-byte aligned").
const Alignment = 64

// Headroom is the dimensional margin (§"Headroom" in the GLOSSARY) applied
// on each axis so that small resolution changes don't force a reallocation.
const Headroom = 1.2

// DefaultSlots is the steady-state ring size chosen for the Open Question
// in spec §9: "the spec assumes 2 slots minimum, implementer may choose up
// to 3." Two is sufficient to decouple one in-flight decode from one
// held-for-render slot. New accepts up to MaxSlots.
const DefaultSlots = 2

// MaxSlots bounds the ring at the upper end of the spec's stated range.
const MaxSlots = 3

// ErrResourceExhausted is returned when the pool cannot allocate within its
// memory budget. Per §7 this is a Resource error: fatal, no shrink-and-retry.
type ErrResourceExhausted struct {
	RequestedSlots int
	MemoryLimitMB  uint64
}

func (e *ErrResourceExhausted) Error() string {
	return fmt.Sprintf("pool: cannot fit %d slots within %dMB memory limit", e.RequestedSlots, e.MemoryLimitMB)
}

// Pool is a small ring of Slots for one stream, plus the "current display
// slot" reference described in the Pool data model (§3).
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond // signaled whenever a slot transitions to free

	slots   []*Slot
	current *Slot // slot currently owned by the renderer, if any

	// publishedIdx/publishGen track the most recently published slot so
	// borrow_latest can tell whether anything new has arrived since the
	// last borrow without a separate condition variable.
	publishedIdx int
	publishGen   uint64
	borrowedGen  uint64

	width, height int // native (unpadded) source dimensions the pool was sized for
}

// Dims is the native (unpadded) stream dimensions used to size a Pool.
type Dims struct {
	Width, Height int
}

// New allocates a pool of n slots (DefaultSlots..MaxSlots) sized with
// §4.1's headroom policy: Y padded to ceil(w*1.2) x ceil(h*1.2), U/V at
// quarter area (4:2:0 chroma subsampling), each plane's backing array
// padded to a 64-byte aligned start.
func New(n int, d Dims) (*Pool, error) {
	if n < 1 {
		n = DefaultSlots
	}
	if n > MaxSlots {
		n = MaxSlots
	}

	p := &Pool{
		publishedIdx: -1,
		width:        d.Width,
		height:       d.Height,
	}
	p.cond = sync.NewCond(&p.mu)
	p.slots = make([]*Slot, n)
	for i := range p.slots {
		p.slots[i] = newSlot(i, d)
	}
	return p, nil
}

func paddedDim(v int) int {
	return int(math.Ceil(float64(v) * Headroom))
}

// BytesPerSlot returns the total backing-array byte cost of one slot sized
// for d, used by clock.BudgetSlots to enforce memory_limit_mb.
func BytesPerSlot(d Dims) uint64 {
	aw, ah := paddedDim(d.Width), paddedDim(d.Height)
	ySize := alignedSize(aw * ah)
	cSize := alignedSize((aw / 2) * (ah / 2))
	return uint64(ySize + 2*cSize)
}

func alignedSize(n int) int {
	return (n + Alignment - 1) / Alignment * Alignment
}

func newSlot(index int, d Dims) *Slot {
	aw, ah := paddedDim(d.Width), paddedDim(d.Height)
	cw, ch := aw/2, ah/2

	return &Slot{
		Y:       alignedBuffer(aw * ah),
		U:       alignedBuffer(cw * ch),
		V:       alignedBuffer(cw * ch),
		AllocW:  aw,
		AllocH:  ah,
		state:   stateFree,
		index:   index,
	}
}

// alignedBuffer returns a slice of length n whose first element sits on a
// 64-byte boundary, by over-allocating and trimming the unaligned prefix.
func alignedBuffer(n int) []byte {
	if n <= 0 {
		n = 1
	}
	buf := make([]byte, n+Alignment)
	off := alignmentOffset(buf)
	return buf[off : off+n : off+n]
}

func alignmentOffset(buf []byte) int {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rem := int(addr % Alignment)
	if rem == 0 {
		return 0
	}
	return Alignment - rem
}

// Dims reports the native dimensions the pool is currently sized for.
func (p *Pool) Dims() Dims {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Dims{Width: p.width, Height: p.height}
}

// Len reports the slot count.
func (p *Pool) Len() int { return len(p.slots) }

// NeedsReallocation reports whether a newly observed source dimension
// exceeds the pool's padded allocation, per §4.1 "On detected resolution
// change exceeding the headroom, free and re-allocate once."
func (p *Pool) NeedsReallocation(d Dims) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if d.Width > s.AllocW || d.Height > s.AllocH {
			return true
		}
	}
	return false
}

// Reallocate frees and rebuilds every slot for the new dimensions. Must
// only be called when no slot is decoding or held (stream reconfiguration
// happens between frames, never mid-decode).
func (p *Pool) Reallocate(d Dims) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.slots)
	p.slots = make([]*Slot, n)
	for i := range p.slots {
		p.slots[i] = newSlot(i, d)
	}
	p.current = nil
	p.publishedIdx = -1
	p.publishGen = 0
	p.borrowedGen = 0
	p.width, p.height = d.Width, d.Height
}

// AcquireFree returns a slot not currently referenced by the renderer and
// marks it decoding, or nil if every slot is ready/held (the pool is
// momentarily saturated; the worker should wait for the next publish/
// release cycle).
func (p *Pool) AcquireFree() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.state == stateFree {
			s.state = stateDecoding
			s.ready = false
			return s
		}
	}
	return nil
}

// AcquireFreeWait blocks, via the pool's own condition variable, until a
// slot is free or ctx is done, per §4.3's mutex+condition-variable
// decoupling between the decode worker and the renderer. Returns nil only
// when ctx is cancelled first.
func (p *Pool) AcquireFreeWait(ctx context.Context) *Slot {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for _, s := range p.slots {
			if s.state == stateFree {
				s.state = stateDecoding
				s.ready = false
				return s
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		p.cond.Wait()
	}
}

// Abandon returns a decoding slot to free without publishing it, used
// when a decode attempt produces no frame (retry budget exhausted, eof,
// or fatal) so the slot doesn't leak stuck in decoding.
func (p *Pool) Abandon(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state != stateDecoding {
		return
	}
	s.state = stateFree
	s.ready = false
	p.cond.Broadcast()
}

// Publish transitions slot from decoding to ready. The caller (the async
// worker, §4.3) must have already written valid Y/U/V/stride/PTS fields.
func (p *Pool) Publish(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state != stateDecoding {
		panic(fmt.Sprintf("pool: publish called on slot %d in state %s", s.index, s.state))
	}
	s.state = stateReady
	s.ready = true
	p.publishedIdx = s.index
	p.publishGen++
}

// BorrowLatest atomically promotes the most recently published slot to
// held-by-renderer. It returns nil when the slot last borrowed is still
// the most recent publish (§4.1: "returning none if the previously
// borrowed slot is still the most recent"); the caller should then keep
// presenting its previously held slot (a repeat, §4.5).
func (p *Pool) BorrowLatest() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.publishedIdx < 0 {
		return nil
	}
	if p.publishGen == p.borrowedGen {
		return nil
	}

	next := p.slots[p.publishedIdx]
	if next.state != stateReady {
		// Published slot already consumed by a racing borrow; nothing new.
		return nil
	}

	if p.current != nil && p.current != next {
		p.current.state = stateFree
		p.current.ready = false
		p.cond.Broadcast()
	}
	// Older ready slots superseded by this publish are never borrowed;
	// free them so the worker is not left without a slot to decode into.
	for _, s := range p.slots {
		if s != next && s.state == stateReady {
			s.state = stateFree
			s.ready = false
			p.cond.Broadcast()
		}
	}

	next.state = stateHeld
	p.current = next
	p.borrowedGen = p.publishGen
	return next
}

// Release returns a held-by-renderer slot to free; a slot in any other
// state is left unchanged. BorrowLatest already frees the previously held
// slot when it promotes a new one, so Release is a no-op on that slot.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state != stateHeld {
		return
	}
	s.state = stateFree
	s.ready = false
	if p.current == s {
		p.current = nil
	}
	p.cond.Broadcast()
}

// Current returns the slot currently held by the renderer, if any.
func (p *Pool) Current() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// StateCounts returns how many slots are in each state, for the invariant
// check in §8 property 1 (sum equals pool capacity; decoding/held ≤ 1 each).
func (p *Pool) StateCounts() (free, decoding, ready, held int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		switch s.state {
		case stateFree:
			free++
		case stateDecoding:
			decoding++
		case stateReady:
			ready++
		case stateHeld:
			held++
		}
	}
	return
}
