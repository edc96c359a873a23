// Package render implements the per-frame render loop (C6): borrow the
// latest decoded slot for each active stream (or repeat the previous one),
// upload its planes, draw the keystoned quad, run the overlay hook, and
// present — with no software-delay pacing anywhere on this path (§4.5).
package render

import (
	"log"
	"time"

	"videoengine/internal/clock"
	"videoengine/internal/config"
	"videoengine/internal/display"
	"videoengine/internal/gpu"
	"videoengine/internal/inputevent"
	"videoengine/internal/keystone"
	"videoengine/internal/pool"
)

// StreamSlot is one active stream's render-side state.
type StreamSlot struct {
	Label    string
	Pool     *pool.Pool
	Keystone *keystone.Corners
	Repeats  *clock.RepeatTracker

	held        *pool.Slot // slot currently borrowed and being presented
	uploaded    bool       // whether held's current content has been uploaded this cycle
	textureInit bool       // whether glTexImage2D has run at least once for this stream
}

// Loop owns the streams, the GPU context, and the display target, and
// drives the present cadence entirely from Target.Present's VSync block
// (§4.5: "the only permitted wait is the blocking present call").
type Loop struct {
	streams []*StreamSlot
	gpuCtx  *gpu.Context
	target  *display.Target
	metrics *clock.Metrics
	overlay config.OverlayHook
	input   inputevent.Source

	selectedCorner int
	selectedStream int
	overlayVisible bool
	onQuit         func()

	frameIndex uint64
	quit       chan struct{}
}

// NewLoop builds a render loop over the given streams (length 1 or 2).
// input may be nil, in which case the loop never polls for operator
// input and only ever stops via Stop. onQuit is invoked once when a Quit
// event is polled, so the engine can begin its own shutdown sequence
// (§6: a Quit input event and SIGINT/SIGTERM both lead to the same
// ordered teardown).
func NewLoop(streams []*StreamSlot, gpuCtx *gpu.Context, target *display.Target, metrics *clock.Metrics, overlay config.OverlayHook, input inputevent.Source, onQuit func()) *Loop {
	return &Loop{
		streams:        streams,
		gpuCtx:         gpuCtx,
		target:         target,
		metrics:        metrics,
		overlay:        overlay,
		input:          input,
		onQuit:         onQuit,
		overlayVisible: true,
		quit:           make(chan struct{}),
	}
}

// Stop signals the loop to exit after its current iteration.
func (l *Loop) Stop() {
	close(l.quit)
}

// Run executes the render loop until Stop is called. Every iteration
// follows the fixed order from §4.5: signal/borrow, upload, clear, draw
// each stream plus overlay, present, record timing.
func (l *Loop) Run() {
	for {
		select {
		case <-l.quit:
			return
		default:
		}
		l.iterate()
	}
}

func (l *Loop) iterate() {
	l.pollInput()

	renderStart := time.Now()

	for i, s := range l.streams {
		if s.Pool == nil {
			continue
		}
		if next := s.Pool.BorrowLatest(); next != nil {
			if s.held != nil {
				s.Pool.Release(s.held)
			}
			s.held = next
			s.uploaded = false
			if s.Repeats != nil {
				s.Repeats.RecordFresh()
			}
		} else if s.held != nil {
			if l.metrics != nil {
				l.metrics.RecordRepeat()
			}
			if s.Repeats != nil {
				s.Repeats.RecordRepeat(s.Label)
			}
		} else if l.metrics != nil {
			l.metrics.RecordDrop() // nothing decoded for this stream yet this cycle
		}
		if s.held == nil {
			continue
		}
		if !s.uploaded {
			l.uploadStream(i, s)
			s.uploaded = true
		}
	}

	gpu.Clear()
	for i, s := range l.streams {
		if s.held == nil {
			continue
		}
		l.gpuCtx.DrawStream(i, s.Keystone.Matrix())
	}

	if l.overlay != nil && l.overlayVisible {
		if err := l.overlay(l.frameIndex); err != nil {
			log.Printf("render: overlay hook error on frame %d: %v", l.frameIndex, err)
		}
	}

	if l.metrics != nil {
		l.metrics.RecordRender(time.Since(renderStart))
	}

	if err := l.target.Present(); err != nil {
		log.Printf("render: present failed: %v", err)
	}
	if l.metrics != nil {
		l.metrics.RecordPresent(time.Now())
	}

	l.frameIndex++
}

// pollInput drains every pending input event before the iteration's
// borrow/draw/present work, so a nudge or corner selection this cycle is
// reflected in this same frame's draw (§6: events are applied "between
// frames").
func (l *Loop) pollInput() {
	if l.input == nil {
		return
	}
	for {
		ev, ok := l.input.Poll()
		if !ok {
			return
		}
		l.applyEvent(ev)
	}
}

func (l *Loop) applyEvent(ev inputevent.Event) {
	switch ev.Kind {
	case inputevent.Quit:
		if l.onQuit != nil {
			l.onQuit()
		}
	case inputevent.ToggleOverlay:
		l.overlayVisible = !l.overlayVisible
	case inputevent.SelectCorner:
		l.selectedCorner = ev.Corner
		l.selectedStream = ev.Stream
	case inputevent.NudgeCorner:
		if l.selectedStream >= 0 && l.selectedStream < len(l.streams) && l.streams[l.selectedStream].Keystone != nil {
			l.streams[l.selectedStream].Keystone.Nudge(l.selectedCorner, ev.DX, ev.DY)
		}
	case inputevent.ResetKeystone:
		if l.selectedStream >= 0 && l.selectedStream < len(l.streams) && l.streams[l.selectedStream].Keystone != nil {
			l.streams[l.selectedStream].Keystone.Reset()
		}
	}
}

func (l *Loop) uploadStream(idx int, s *StreamSlot) {
	slot := s.held
	l.gpuCtx.UploadPlane(idx, 0, slot.Y[:slot.StrideY*slot.ValidH], slot.StrideY, slot.ValidW, slot.ValidH, !s.textureInit)
	chromaH := (slot.ValidH + 1) / 2
	chromaW := (slot.ValidW + 1) / 2
	l.gpuCtx.UploadPlane(idx, 1, s.held.U[:slot.StrideU*chromaH], slot.StrideU, chromaW, chromaH, !s.textureInit)
	l.gpuCtx.UploadPlane(idx, 2, s.held.V[:slot.StrideV*chromaH], slot.StrideV, chromaW, chromaH, !s.textureInit)
	s.textureInit = true
}
