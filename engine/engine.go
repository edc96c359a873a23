// Package engine implements the lifecycle supervisor (C9): the single
// value constructed once at start-up, owning every other component, and
// responsible for signal handling and ordered teardown (§4.8).
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"videoengine/internal/clock"
	"videoengine/internal/config"
	"videoengine/internal/coreaffinity"
	"videoengine/internal/decode"
	"videoengine/internal/display"
	"videoengine/internal/exitcode"
	"videoengine/internal/gpu"
	"videoengine/internal/keystone"
	"videoengine/internal/pool"
	"videoengine/internal/render"
)

// teardownGrace bounds how long the supervisor waits for decode workers to
// unwind after a quit signal before declaring the shutdown complete
// regardless (mirrors decode.GracePeriod at the engine level).
const teardownGrace = 2 * time.Second

// streamHandle bundles one stream's owned resources, torn down together.
type streamHandle struct {
	label    string
	decoder  *decode.Decoder
	pool     *pool.Pool
	worker   *decode.Worker
	corners  *keystone.Corners
	repeater *clock.RepeatTracker
}

// Engine is the single process-wide supervisor value (§9 Design Notes).
type Engine struct {
	cfg *config.Config

	metrics   *clock.Metrics
	allocator *coreaffinity.Allocator

	streams []*streamHandle

	gpuCtx  *gpu.Context
	target  *display.Target
	loop    *render.Loop

	quitting atomic.Bool

	devicePath string
}

// New validates cfg and constructs an Engine; it performs no I/O yet (no
// files opened, no display claimed) — that happens in Run.
func New(cfg *config.Config, devicePath string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		metrics:    clock.NewMetrics(600),
		allocator:  coreaffinity.New(0, 1), // cores 0/1 reserved for the render thread and the OS
		devicePath: devicePath,
	}, nil
}

// Run opens every source, claims the display, and runs the render loop
// until a quit signal arrives or every stream reaches a terminal decoder
// state. It always tears down in order before returning, even on error.
func (e *Engine) Run(ctx context.Context) exitcode.Code {
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	e.installCrashHandler()

	if err := e.openStreams(); err != nil {
		log.Printf("engine: %v", err)
		e.teardown()
		return exitcode.Configuration
	}

	target, err := display.Open(e.devicePath)
	if err != nil {
		log.Printf("engine: display open failed: %v", err)
		e.teardown()
		return exitcode.Display
	}
	e.target = target

	gpuCtx, err := gpu.NewContext(len(e.streams))
	if err != nil {
		log.Printf("engine: gpu context failed: %v", err)
		e.teardown()
		return exitcode.Display
	}
	e.gpuCtx = gpuCtx

	renderStreams := make([]*render.StreamSlot, len(e.streams))
	for i, s := range e.streams {
		renderStreams[i] = &render.StreamSlot{
			Label:    s.label,
			Pool:     s.pool,
			Keystone: s.corners,
			Repeats:  s.repeater,
		}
	}
	e.loop = render.NewLoop(renderStreams, e.gpuCtx, e.target, e.metrics, e.cfg.OverlayHook, e.cfg.InputSource, e.requestQuit)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	for _, s := range e.streams {
		s.worker.Start(workerCtx)
	}

	go func() {
		<-sigCtx.Done()
		log.Printf("engine: quit signal received, stopping render loop")
		e.requestQuit()
	}()

	go e.monitorTerminalStreams()

	e.loop.Run()

	cancelWorkers()
	e.joinWorkers(teardownGrace)
	e.teardown()

	if e.allBroken() {
		return exitcode.AllStreamsBroken
	}
	return exitcode.Clean
}

// requestQuit begins an orderly shutdown: it is the single path both a
// SIGINT/SIGTERM and a polled inputevent.Quit event funnel through (§6:
// "a Quit input event and SIGINT/SIGTERM both lead to the same ordered
// teardown").
func (e *Engine) requestQuit() {
	if e.quitting.Swap(true) {
		return
	}
	if e.loop != nil {
		e.loop.Stop()
	}
}

// monitorTerminalStreams stops the render loop once every stream's worker
// has reached a terminal state (all ended, or all broken) with nothing
// left to present.
func (e *Engine) monitorTerminalStreams() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if e.quitting.Load() {
			return
		}
		if e.allBroken() || e.allTerminal() {
			e.requestQuit()
			return
		}
	}
}

func (e *Engine) allTerminal() bool {
	for _, s := range e.streams {
		if !s.worker.State().IsTerminal() {
			return false
		}
	}
	return true
}

func (e *Engine) allBroken() bool {
	for _, s := range e.streams {
		if s.worker.State() != stateBroken() {
			return false
		}
	}
	return true
}

func stateBroken() decode.State { return decode.Broken }

func (e *Engine) openStreams() error {
	for i, source := range e.cfg.Sources {
		label := fmt.Sprintf("stream%d", i)

		d, err := decode.Open(source, e.cfg.PreferHardware, e.cfg.MaxDecodeAttempts, e.cfg.MaxVideoWidth, e.cfg.MaxVideoHeight)
		if err != nil {
			return fmt.Errorf("opening %s (%s): %w", label, source, err)
		}

		dims := pool.Dims{Width: d.Width(), Height: d.Height()}
		bytesPerSlot := pool.BytesPerSlot(dims)
		nSlots, capped := clock.BudgetSlots(pool.DefaultSlots, e.cfg.MemoryLimitMB, bytesPerSlot)
		if nSlots < 1 {
			d.Close()
			return &pool.ErrResourceExhausted{RequestedSlots: pool.DefaultSlots, MemoryLimitMB: e.cfg.MemoryLimitMB}
		}
		if capped {
			log.Printf("engine: %s pool capped to %d slots by memory_limit_mb=%d", label, nSlots, e.cfg.MemoryLimitMB)
		}

		p, err := pool.New(nSlots, dims)
		if err != nil {
			d.Close()
			return fmt.Errorf("allocating pool for %s: %w", label, err)
		}

		corners := keystone.Identity()
		if i < len(e.cfg.KeystoneInitial) && e.cfg.KeystoneInitial[i] != nil {
			corners = e.cfg.KeystoneInitial[i]
		}

		decodeTimeout := time.Duration(e.cfg.DecodeTimeoutMS) * time.Millisecond
		worker := decode.NewWorker(label, d, p, e.metrics, e.allocator, decodeTimeout)

		e.streams = append(e.streams, &streamHandle{
			label:    label,
			decoder:  d,
			pool:     p,
			worker:   worker,
			corners:  corners,
			repeater: clock.NewRepeatTracker(30),
		})
	}
	return nil
}

func (e *Engine) joinWorkers(grace time.Duration) {
	var g errgroup.Group
	for _, s := range e.streams {
		s := s
		g.Go(func() error {
			s.worker.Stop()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("engine: decode workers did not all join within grace period")
	}
}

// teardown releases every owned resource in the fixed order from §4.8:
// decoders/pools (already stopped by joinWorkers), then GPU context, then
// display (which restores the CRTC before releasing framebuffers).
func (e *Engine) teardown() {
	for _, s := range e.streams {
		s.decoder.Close()
	}
	if e.gpuCtx != nil {
		e.gpuCtx.Close()
	}
	if e.target != nil {
		e.target.Close()
	}
}

// Metrics exposes the running report, e.g. for a future diagnostics
// surface; out of scope to wire anywhere beyond logging (§1 Non-goals).
func (e *Engine) Metrics() clock.Report {
	return e.metrics.GetReport()
}
