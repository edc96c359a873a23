//go:build linux

package clock

import (
	"log"
	"syscall"
	"time"
)

// GetSystemMemory retrieves current system memory information on Linux via
// sysinfo(2), which gives accurate system-wide figures without parsing
// /proc/meminfo.
func GetSystemMemory() MemorySnapshot {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		log.Printf("clock: sysinfo failed: %v", err)
		return MemorySnapshot{Timestamp: time.Now()}
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}

	totalMB := (info.Totalram * unit) / (1024 * 1024)
	freeMB := (info.Freeram * unit) / (1024 * 1024)
	bufferMB := (info.Bufferram * unit) / (1024 * 1024)

	availableMB := freeMB + bufferMB
	usedMB := totalMB - availableMB

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     totalMB,
		AvailableMB: availableMB,
		UsedMB:      usedMB,
		FreeMB:      freeMB,
	}
}
