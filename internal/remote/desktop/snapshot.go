package desktop

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

// SnapshotCache holds one coherent copy of a device's framebuffer. Reads are
// served from the copy; a capture only happens after MarkDirty, and at most
// one capture runs at a time. Callers arriving during a capture wait on the
// mutex and then see its result.
type SnapshotCache struct {
	backend *Backend

	mu     sync.Mutex
	pixels []uint32
	width  int
	height int

	dirty    atomic.Bool
	captures atomic.Uint64
}

// NewSnapshotCache returns a cache that captures on first read.
func NewSnapshotCache(backend *Backend) *SnapshotCache {
	c := &SnapshotCache{backend: backend}
	c.dirty.Store(true)
	return c
}

// MarkDirty forces the next read to capture. Safe from any goroutine.
func (c *SnapshotCache) MarkDirty() {
	c.dirty.Store(true)
}

// Dirty reports whether the next read will capture.
func (c *SnapshotCache) Dirty() bool {
	return c.dirty.Load()
}

// Captures returns the number of completed captures.
func (c *SnapshotCache) Captures() uint64 {
	return c.captures.Load()
}

// Size returns the dimensions of the last captured snapshot, or zero before
// the first capture.
func (c *SnapshotCache) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Read copies the w×h rectangle at (x, y), in snapshot coordinates, into dst
// row by row. usedFastPath reports whether the capture behind the data came
// from the fast path; a read that did not need to capture reports true.
//
// w and h must be positive and strictly smaller than the snapshot, the
// rectangle must lie inside it and dst must hold w*h pixels. Violations panic.
func (c *SnapshotCache) Read(dst []uint32, x, y, w, h int) (usedFastPath bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	usedFastPath = true
	if c.dirty.Load() {
		if usedFastPath, err = c.refreshLocked(); err != nil {
			return false, err
		}
	}

	if w <= 0 || h <= 0 || w >= c.width || h >= c.height {
		panic(fmt.Sprintf("desktop: read %dx%d outside snapshot %dx%d", w, h, c.width, c.height))
	}
	if x < 0 || y < 0 || x+w > c.width || y+h > c.height {
		panic(fmt.Sprintf("desktop: read rect %v outside snapshot %dx%d", image.Rect(x, y, x+w, y+h), c.width, c.height))
	}
	if len(dst) < w*h {
		panic(fmt.Sprintf("desktop: read buffer of %d pixels too small for %dx%d", len(dst), w, h))
	}

	for row := 0; row < h; row++ {
		src := (y+row)*c.width + x
		copy(dst[row*w:row*w+w], c.pixels[src:src+w])
	}
	return usedFastPath, nil
}

// CaptureFull captures if dirty and returns a fresh copy of the whole
// snapshot together with its bounds in global coordinates.
func (c *SnapshotCache) CaptureFull() ([]uint32, image.Rectangle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dirty.Load() {
		if _, err := c.refreshLocked(); err != nil {
			return nil, image.Rectangle{}, err
		}
	}
	out := make([]uint32, len(c.pixels))
	copy(out, c.pixels)
	origin := c.backend.Device().Origin
	return out, image.Rect(origin.X, origin.Y, origin.X+c.width, origin.Y+c.height), nil
}

// refreshLocked captures into the snapshot buffer. The dirty flag is cleared
// before the capture so a MarkDirty racing with it is not lost; on failure
// it is set again so the next read retries.
func (c *SnapshotCache) refreshLocked() (bool, error) {
	bounds := c.backend.Device().EffectiveBounds()
	n := bounds.Dx() * bounds.Dy()
	if len(c.pixels) != n {
		c.pixels = make([]uint32, n)
	}

	c.dirty.Store(false)
	fast, err := c.backend.CaptureInto(c.pixels, bounds)
	if err != nil {
		c.dirty.Store(true)
		log.Error("snapshot capture failed", "device", c.backend.Device().ID, "error", err)
		return false, err
	}

	c.width = bounds.Dx()
	c.height = bounds.Dy()
	c.captures.Add(1)
	return fast, nil
}
