package desktop

import (
	"sync"
	"time"
)

// AdaptiveQuality steers JPEG quality for segment encoding from recent
// encode times, segment sizes and drops. Quality stays within
// [minQuality, base+15] capped at 95.
type AdaptiveQuality struct {
	mu sync.Mutex

	quality    int
	minQuality int
	maxQuality int

	encodeTimes []time.Duration
	sizes       []int
	next        int
	filled      int
	drops       int
	sends       int

	lastAdjust time.Time
	cooldown   time.Duration
}

const (
	adaptiveWindow     = 64
	adaptiveMinSamples = 8

	// Per-tile thresholds. Tiles are much smaller than full frames.
	slowEncode     = 10 * time.Millisecond
	fastEncode     = 4 * time.Millisecond
	largeSegment   = 24 << 10
	compactSegment = 8 << 10
)

func NewAdaptiveQuality(base int) *AdaptiveQuality {
	return &AdaptiveQuality{
		quality:     base,
		minQuality:  min(20, base),
		maxQuality:  min(base+15, 95),
		encodeTimes: make([]time.Duration, adaptiveWindow),
		sizes:       make([]int, adaptiveWindow),
		cooldown:    500 * time.Millisecond,
	}
}

// Record adds one encoded segment. dropped means at least one watcher's
// queue refused it.
func (a *AdaptiveQuality) Record(encodeTime time.Duration, size int, dropped bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sends++
	if dropped {
		a.drops++
	}
	a.encodeTimes[a.next] = encodeTime
	a.sizes[a.next] = size
	a.next = (a.next + 1) % adaptiveWindow
	a.filled = min(a.filled+1, adaptiveWindow)
}

// Quality returns the quality to encode the next segments with.
func (a *AdaptiveQuality) Quality() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quality
}

// Adjust moves quality down 5 when encoding is slow, segments are large or
// watchers drop, and up 3 when all three are comfortably low. Changes are
// rate limited by the cooldown.
func (a *AdaptiveQuality) Adjust() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Sub(a.lastAdjust) < a.cooldown || a.filled < adaptiveMinSamples {
		return
	}

	var total time.Duration
	var size int
	for i := 0; i < a.filled; i++ {
		total += a.encodeTimes[i]
		size += a.sizes[i]
	}
	avgEncode := total / time.Duration(a.filled)
	avgSize := size / a.filled
	dropRate := float64(a.drops) / float64(max(a.sends, 1))

	q := a.quality
	switch {
	case avgEncode > slowEncode || dropRate > 0.1 || avgSize > largeSegment:
		q -= 5
	case avgEncode < fastEncode && dropRate < 0.02 && avgSize < compactSegment:
		q += 3
	}
	q = max(a.minQuality, min(q, a.maxQuality))

	if q != a.quality {
		a.quality = q
		a.lastAdjust = now
		a.drops = 0
		a.sends = 0
	}
}
