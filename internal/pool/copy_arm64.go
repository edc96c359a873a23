//go:build arm64

package pool

import "unsafe"

// CopyPlane is the arm64 path described in §4.1: "When the platform
// supports 128-bit SIMD, copy 32 bytes per inner step (two 16-byte loads/
// stores)". Pure Go has no NEON intrinsics and no portable cache-prefetch
// instruction without cgo or an assembly stub (neither of which the
// teacher's cgo usage elsewhere needs for this concern), so this widens
// the per-iteration copy to two 16-byte (128-bit-sized) word groups via
// unsafe.Pointer, which the compiler lowers to wide load/store pairs on
// arm64 — the idiomatic pure-Go approximation of the width the spec asks
// for. It still must never read past width bytes of a source row, so the
// tail (width % 32 bytes) always falls through to the byte copy.
func CopyPlane(dst []byte, dstStride int, src []byte, srcStride, width, height int) {
	chunk := 32
	for row := 0; row < height; row++ {
		so := row * srcStride
		do := row * dstStride
		s := src[so : so+width]
		d := dst[do : do+width]

		n := len(s) - len(s)%chunk
		if n > 0 {
			copyWide32(d[:n], s[:n])
		}
		if n < width {
			copy(d[n:], s[n:])
		}
	}
}

// copyWide32 copies len(src) bytes (a multiple of 32) from src to dst
// using two 16-byte word copies per iteration.
func copyWide32(dst, src []byte) {
	type word128 struct{ lo, hi uint64 }
	n := len(src) / 32
	sp := unsafe.Pointer(&src[0])
	dp := unsafe.Pointer(&dst[0])
	sw := unsafe.Slice((*word128)(sp), n*2)
	dw := unsafe.Slice((*word128)(dp), n*2)
	for i := 0; i < n*2; i += 2 {
		dw[i] = sw[i]
		dw[i+1] = sw[i+1]
	}
}
