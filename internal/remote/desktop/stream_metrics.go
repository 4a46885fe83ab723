package desktop

import (
	"sync"
	"time"
)

// StreamMetrics tracks performance data for one device broadcast.
type StreamMetrics struct {
	mu sync.RWMutex

	Ticks           uint64
	TicksSkipped    uint64
	Captures        uint64
	FastPathMisses  uint64
	SegmentsEncoded uint64
	SegmentsSent    uint64
	SegmentsDropped uint64

	LastCaptureTime time.Duration
	LastEncodeTime  time.Duration
	LastSegmentSize int

	TotalBytesSent uint64
	startTime      time.Time
}

func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{startTime: time.Now()}
}

// RecordCapture records one capture pass. fastPath is false when the
// generic path had to be used.
func (m *StreamMetrics) RecordCapture(d time.Duration, fastPath bool) {
	m.mu.Lock()
	m.Ticks++
	m.Captures++
	m.LastCaptureTime = d
	if !fastPath {
		m.FastPathMisses++
	}
	m.mu.Unlock()
}

// RecordSkip records a tick in which no tile changed.
func (m *StreamMetrics) RecordSkip() {
	m.mu.Lock()
	m.TicksSkipped++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordEncode(d time.Duration, size int) {
	m.mu.Lock()
	m.SegmentsEncoded++
	m.LastEncodeTime = d
	m.LastSegmentSize = size
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordSend(size int) {
	m.mu.Lock()
	m.SegmentsSent++
	m.TotalBytesSent += uint64(size)
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordDrop() {
	m.mu.Lock()
	m.SegmentsDropped++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging.
type MetricsSnapshot struct {
	Ticks           uint64
	TicksSkipped    uint64
	Captures        uint64
	FastPathMisses  uint64
	SegmentsEncoded uint64
	SegmentsSent    uint64
	SegmentsDropped uint64
	CaptureMs       float64
	EncodeMs        float64
	LastSegmentSize int
	BandwidthKBps   float64
	Uptime          time.Duration
}

func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw := float64(0)
	if uptime.Seconds() > 0 {
		bw = float64(m.TotalBytesSent) / uptime.Seconds() / 1024.0
	}

	return MetricsSnapshot{
		Ticks:           m.Ticks,
		TicksSkipped:    m.TicksSkipped,
		Captures:        m.Captures,
		FastPathMisses:  m.FastPathMisses,
		SegmentsEncoded: m.SegmentsEncoded,
		SegmentsSent:    m.SegmentsSent,
		SegmentsDropped: m.SegmentsDropped,
		CaptureMs:       float64(m.LastCaptureTime.Microseconds()) / 1000.0,
		EncodeMs:        float64(m.LastEncodeTime.Microseconds()) / 1000.0,
		LastSegmentSize: m.LastSegmentSize,
		BandwidthKBps:   bw,
		Uptime:          uptime,
	}
}
