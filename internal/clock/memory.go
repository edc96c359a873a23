package clock

import (
	"runtime"
	"time"
)

// MemorySnapshot represents available system memory at a point in time.
type MemorySnapshot struct {
	Timestamp   time.Time
	TotalMB     uint64
	AvailableMB uint64
	UsedMB      uint64
	FreeMB      uint64
}

// AvailableMemoryMB returns only the available memory in MB.
func AvailableMemoryMB() uint64 {
	return GetSystemMemory().AvailableMB
}

// GoMemoryStats reports Go runtime memory statistics.
type GoMemoryStats struct {
	AllocMB      uint64
	TotalAllocMB uint64
	SysMB        uint64
	NumGC        uint32
}

// GoMemory retrieves Go runtime memory statistics.
func GoMemory() GoMemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return GoMemoryStats{
		AllocMB:      m.Alloc / (1024 * 1024),
		TotalAllocMB: m.TotalAlloc / (1024 * 1024),
		SysMB:        m.Sys / (1024 * 1024),
		NumGC:        m.NumGC,
	}
}

// slotMemoryFraction is the portion of available memory the pool allocator
// is allowed to claim, leaving headroom for the decoder, GPU driver and the
// rest of the system. Mirrors the 70%-of-available discipline used to size
// concurrent workers against memory pressure.
const slotMemoryFraction = 0.7

// BudgetSlots returns the number of pool slots that fit within the
// tighter of memoryLimitMB (the Config.MemoryLimitMB ceiling, §6) and
// slotMemoryFraction of currently available system memory, given the
// per-slot byte cost of one stream's padded Y+U+V planes. It also
// reports whether the caller's requested slot count had to be capped.
func BudgetSlots(requested int, memoryLimitMB uint64, bytesPerSlot uint64) (int, bool) {
	if bytesPerSlot == 0 || memoryLimitMB == 0 {
		return requested, false
	}

	ceilingMB := memoryLimitMB
	if available := AvailableMemoryMB(); available > 0 && available < ceilingMB {
		ceilingMB = available
	}

	budget := uint64(float64(ceilingMB<<20) * slotMemoryFraction)
	maxSlots := int(budget / bytesPerSlot)
	if requested > maxSlots {
		return maxSlots, true
	}
	return requested, false
}
