package decode

import "sync"

// decoderFallback tracks consecutive hardware-decode failures for one
// stream and decides when to tear down the hardware path and reinitialize
// in software mode (§4.2 "Hardware fallback", §5 "Hardware-decode
// consecutive-failure bound: 3 frames"). Kept as a small plain struct,
// independent of the cgo decoder, so the state-machine boundary behavior
// in §8 can be unit tested without opening a media source. The package
// itself still links the libav* libraries, so its tests need them.
type decoderFallback struct {
	mu                   sync.Mutex
	maxAttempts          int
	consecutiveFailures  int
}

// recordAttempt registers one decode attempt's outcome. ok=true resets the
// streak (§4.2: a good frame means the hardware path is healthy again).
func (d *decoderFallback) recordAttempt(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		d.consecutiveFailures = 0
		return
	}
	d.consecutiveFailures++
}

// shouldFallBack reports whether the consecutive-failure count has
// reached the configured bound.
func (d *decoderFallback) shouldFallBack() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures >= d.maxAttempts
}

// Failures returns the current consecutive-failure count, for logging.
func (d *decoderFallback) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}
