package clock

import (
	"sync"
	"time"
)

// Report is a snapshot of the engine's rolling timing metrics.
type Report struct {
	AvgDecodeMs    float64
	AvgRenderMs    float64
	AvgPresentMs   float64
	P99PresentMs   float64
	RepeatedFrames int
	DroppedFrames  int
	TotalFrames    int
	UptimeSeconds  int64

	GoAllocMB         uint64
	AvailableSystemMB uint64
}

// Metrics tracks per-frame decode/render/present timings and repeat/drop
// counts (C1). One Metrics instance is owned by the Engine and shared by
// the render loop and every decode worker.
type Metrics struct {
	decode  *RollingAverage
	render  *RollingAverage
	present *RollingAverage

	mu            sync.Mutex
	repeated      int
	dropped       int
	total         int
	startTime     time.Time
	lastPresent   time.Time
}

// NewMetrics creates a metrics tracker with a rolling window of windowSize
// frames (e.g. 600 for a "last 10 seconds at 60Hz" window per §8 property 6).
func NewMetrics(windowSize int) *Metrics {
	return &Metrics{
		decode:    NewRollingAverage(windowSize),
		render:    NewRollingAverage(windowSize),
		present:   NewRollingAverage(windowSize),
		startTime: time.Now(),
	}
}

// RecordDecode records the wall-clock time a single next_frame call took.
func (m *Metrics) RecordDecode(d time.Duration) {
	m.decode.Add(d)
}

// RecordRender records the time spent uploading textures and drawing.
func (m *Metrics) RecordRender(d time.Duration) {
	m.render.Add(d)
}

// RecordPresent records the wall-clock interval between two successive
// present() returns, used to check VSync pacing (§8 property 6).
func (m *Metrics) RecordPresent(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastPresent.IsZero() {
		m.present.Add(now.Sub(m.lastPresent))
	}
	m.lastPresent = now
	m.total++
}

// RecordRepeat marks the current frame as a re-presented (not dropped) frame.
func (m *Metrics) RecordRepeat() {
	m.mu.Lock()
	m.repeated++
	m.mu.Unlock()
}

// RecordDrop marks the current frame as dropped for a stream that had no
// frame at all to present this cycle.
func (m *Metrics) RecordDrop() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

// GetReport produces a point-in-time report.
func (m *Metrics) GetReport() Report {
	m.mu.Lock()
	repeated, dropped, total := m.repeated, m.dropped, m.total
	uptime := int64(time.Since(m.startTime).Seconds())
	m.mu.Unlock()

	return Report{
		AvgDecodeMs:       ms(m.decode.Average()),
		AvgRenderMs:       ms(m.render.Average()),
		AvgPresentMs:      ms(m.present.Average()),
		P99PresentMs:      ms(m.present.Percentile(99)),
		RepeatedFrames:    repeated,
		DroppedFrames:     dropped,
		TotalFrames:       total,
		UptimeSeconds:     uptime,
		GoAllocMB:         GoMemory().AllocMB,
		AvailableSystemMB: AvailableMemoryMB(),
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
