// Package coreaffinity implements the process-wide logical-core allocator
// described in §5: each async decode worker pins itself to a unique
// dedicated core obtained from a short-mutex-guarded allocator, never held
// across I/O.
package coreaffinity

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Allocator hands out unique logical core indices to decode workers. One
// Allocator is owned by the Engine (§9: belongs to the single engine value
// constructed at start-up) and shared by every worker.
type Allocator struct {
	mu       sync.Mutex
	assigned map[int]bool
	reserved map[int]bool // cores never handed out (e.g. reserved for the render thread)
	numCPU   int
}

// New creates an allocator over the process's available logical cores.
// reservedCores are excluded from assignment — e.g. core 0/1 in scenario
// E2, left free so "no worker runs on core 0 or core 1."
func New(reservedCores ...int) *Allocator {
	a := &Allocator{
		assigned: make(map[int]bool),
		reserved: make(map[int]bool),
		numCPU:   runtime.NumCPU(),
	}
	for _, c := range reservedCores {
		a.reserved[c] = true
	}
	return a
}

// ErrNoCoresAvailable is returned when every non-reserved core already has
// a worker pinned to it.
var ErrNoCoresAvailable = fmt.Errorf("coreaffinity: no unique logical core available")

// Acquire reserves and returns a unique logical core index. The mutex is
// held only for the increment/assign bookkeeping (§5: "never held across
// I/O") — the actual pin (a syscall) happens after Acquire returns.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for c := 0; c < a.numCPU; c++ {
		if a.reserved[c] || a.assigned[c] {
			continue
		}
		a.assigned[c] = true
		return c, nil
	}
	return -1, ErrNoCoresAvailable
}

// Release frees a previously acquired core, e.g. when a worker exits.
func (a *Allocator) Release(core int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assigned, core)
}

// PinCurrentThread pins the calling OS thread to core. The caller must
// have already called runtime.LockOSThread() so the pin sticks to a
// specific OS thread rather than a goroutine the scheduler may migrate.
func PinCurrentThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
