package decode

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"videoengine/internal/clock"
	"videoengine/internal/coreaffinity"
	"videoengine/internal/pool"
)

// GracePeriod bounds how long Stop waits for the worker's current decode
// step to unwind before the worker is abandoned (§4.3 "bounded grace
// period cancellation").
const GracePeriod = 750 * time.Millisecond

// Worker is the async decode worker for one stream (C5): it owns a
// Decoder and a destination pool.Pool, pins itself to a dedicated logical
// core, and continuously decodes ahead of the renderer, one slot at a
// time, using pool.Pool's own condition variable for the decoder-side of
// the producer/consumer handoff described in §4.3.
type Worker struct {
	label   string
	decoder *Decoder
	pool    *pool.Pool
	metrics *clock.Metrics

	allocator *coreaffinity.Allocator
	core      int

	decodeTimeout time.Duration
	gotFrame      bool // set once the first frame has decoded; touched only by run

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker constructs a worker over an already-opened decoder and its
// destination pool. decodeTimeout bounds how long the worker waits for the
// stream's first frame (§6 decode_timeout_ms); exceeding it is treated as a
// hardware failure when the hardware path is active, and fatal otherwise.
// Once a frame has been decoded, later frames are not time-bounded.
func NewWorker(label string, d *Decoder, p *pool.Pool, m *clock.Metrics, allocator *coreaffinity.Allocator, decodeTimeout time.Duration) *Worker {
	return &Worker{
		label:         label,
		decoder:       d,
		pool:          p,
		metrics:       m,
		allocator:     allocator,
		core:          -1,
		decodeTimeout: decodeTimeout,
		state:         Opening,
		done:          make(chan struct{}),
	}
}

// State reports the worker's current decoder state machine position.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Start pins the worker to a dedicated core (when allocator is non-nil)
// and runs the decode loop on a locked OS thread until ctx is cancelled or
// the stream reaches a terminal state.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)
}

// Stop cancels the worker and waits up to GracePeriod for it to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
	case <-time.After(GracePeriod):
		log.Printf("decode[%s]: worker did not exit within grace period, abandoning", w.label)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.allocator != nil {
		if core, err := w.allocator.Acquire(); err == nil {
			w.core = core
			if pinErr := coreaffinity.PinCurrentThread(core); pinErr != nil {
				log.Printf("decode[%s]: pin to core %d failed: %v", w.label, core, pinErr)
			}
			defer w.allocator.Release(core)
		} else {
			log.Printf("decode[%s]: no dedicated core available, running unpinned: %v", w.label, err)
		}
	}

	w.setState(Draining)

	var frame Frame
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		slot := w.pool.AcquireFreeWait(ctx)
		if slot == nil {
			return // ctx cancelled while waiting for pool space
		}

		ev, ok := w.decodeInto(ctx, slot, &frame)
		if !ok {
			// ctx cancelled mid-decode; return the slot so the pool
			// doesn't leak a permanently-decoding slot.
			w.pool.Abandon(slot)
			return
		}

		next, _ := w.State().Next(ev)
		w.setState(next)

		switch ev {
		case EventFrameOK:
			w.pool.Publish(slot)
		case EventRetry:
			// No frame produced this step; release the slot back to free
			// and try again immediately (no sleep: §4.3 forbids
			// software-delay pacing on the hot path).
			w.pool.Abandon(slot)
		case EventEOF, EventFatal:
			w.pool.Abandon(slot)
			return
		}

		if next.IsTerminal() {
			return
		}
	}
}

// decodeInto runs Step calls against slot until a terminating event for
// this iteration is reached (frame ready, eof, fatal) or, before the first
// frame, the decode deadline passes, copying planes into slot on success. The bool return is false
// only if ctx was cancelled mid-decode.
func (w *Worker) decodeInto(ctx context.Context, slot *pool.Slot, frame *Frame) (Event, bool) {
	deadline := time.Now().Add(w.decodeTimeout)

	for {
		select {
		case <-ctx.Done():
			return EventFatal, false
		default:
		}

		start := time.Now()
		result := w.decoder.Step(frame)

		switch result {
		case ResultOK:
			w.decoder.RecordHardwareSuccess()
			w.gotFrame = true
			w.copyFrame(slot, frame)
			if w.metrics != nil {
				w.metrics.RecordDecode(time.Since(start))
			}
			return EventFrameOK, true

		case ResultRetry:
			if !w.gotFrame && time.Now().After(deadline) {
				return w.handleStall()
			}
			continue

		case ResultEOF:
			return EventEOF, true

		case ResultFatal:
			if w.decoder.UsingHardware() {
				w.decoder.RecordHardwareFailure()
				if w.decoder.ShouldFallBackToSoftware() {
					log.Printf("decode[%s]: %d consecutive hardware failures, falling back to software", w.label, w.decoder.fallback.Failures())
					if err := w.decoder.FallBackToSoftware(); err != nil {
						return EventFatal, true
					}
					continue
				}
				// Below the fallback threshold: treat as a transient
				// failure and keep stepping the hardware decoder.
				continue
			}
			return EventFatal, true
		}
	}
}

// handleStall is reached when decode_timeout_ms elapses before the
// stream's first frame.
// On the hardware path this counts as a failure toward the fallback bound
// (§4.2); on software it is fatal (§7 Resource/Decode error: no recovery
// path left).
func (w *Worker) handleStall() (Event, bool) {
	if w.decoder.UsingHardware() {
		w.decoder.RecordHardwareFailure()
		if w.decoder.ShouldFallBackToSoftware() {
			if err := w.decoder.FallBackToSoftware(); err != nil {
				return EventFatal, true
			}
			return EventRetry, true
		}
		return EventRetry, true
	}
	return EventFatal, true
}

func (w *Worker) copyFrame(slot *pool.Slot, frame *Frame) {
	cw, ch := frame.Width, frame.Height
	chromaW, chromaH := (cw+1)/2, (ch+1)/2

	pool.CopyPlane(slot.Y, slot.AllocW, frame.Y, frame.StrideY, cw, ch)
	pool.CopyPlane(slot.U, slot.AllocW/2, frame.U, frame.StrideU, chromaW, chromaH)
	pool.CopyPlane(slot.V, slot.AllocW/2, frame.V, frame.StrideV, chromaW, chromaH)

	slot.ValidW, slot.ValidH = cw, ch
	slot.StrideY, slot.StrideU, slot.StrideV = slot.AllocW, slot.AllocW/2, slot.AllocW/2
	slot.PTS = frame.PTS
}
