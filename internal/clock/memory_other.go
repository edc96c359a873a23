//go:build !linux

package clock

import (
	"runtime"
	"time"
)

// GetSystemMemory falls back to Go runtime stats on platforms without
// sysinfo(2) (darwin development builds; the engine's deployment target
// is linux/arm64, but the package still needs to build on a developer's
// laptop).
func GetSystemMemory() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sysMB := m.Sys / (1024 * 1024)
	totalMB := uint64(2048)
	usedMB := sysMB
	availableMB := totalMB - usedMB
	if availableMB > totalMB {
		availableMB = totalMB / 2
	}

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     totalMB,
		AvailableMB: availableMB,
		UsedMB:      usedMB,
		FreeMB:      availableMB,
	}
}
