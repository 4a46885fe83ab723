package desktop

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

// ImageCache maps a pixel buffer, by identity, to the image decoded from it.
// Entries live until the buffer's owner calls Retire; nothing is reclaimed
// automatically. A buffer must be retired before its contents are rewritten.
type ImageCache struct {
	mu       sync.Mutex
	alpha    map[*uint32]*image.NRGBA
	nonAlpha map[*uint32]*image.RGBA

	decodes atomic.Uint64
}

// NewImageCache returns an empty cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		alpha:    make(map[*uint32]*image.NRGBA),
		nonAlpha: make(map[*uint32]*image.RGBA),
	}
}

// Get returns the image for the first size pixels of buf, decoding on a miss.
// Alpha images are *image.NRGBA; opaque ones are *image.RGBA with alpha
// forced to 0xFF.
func (c *ImageCache) Get(buf []uint32, size, width, height int, hasAlpha bool) image.Image {
	if size <= 0 || width <= 0 || height <= 0 || size != width*height {
		panic(fmt.Sprintf("desktop: image size %d does not match %dx%d", size, width, height))
	}
	if len(buf) < size {
		panic(fmt.Sprintf("desktop: image buffer of %d pixels shorter than %d", len(buf), size))
	}
	key := &buf[0]

	c.mu.Lock()
	defer c.mu.Unlock()

	if hasAlpha {
		if img, ok := c.alpha[key]; ok {
			return img
		}
		img := argbToNRGBA(buf[:size], width, height)
		c.alpha[key] = img
		c.decodes.Add(1)
		return img
	}

	if img, ok := c.nonAlpha[key]; ok {
		return img
	}
	img := argbToRGBA(buf[:size], width, height)
	c.nonAlpha[key] = img
	c.decodes.Add(1)
	return img
}

// Retire drops both cohort entries for buf.
func (c *ImageCache) Retire(buf []uint32) {
	if len(buf) == 0 {
		return
	}
	key := &buf[0]

	c.mu.Lock()
	delete(c.alpha, key)
	delete(c.nonAlpha, key)
	c.mu.Unlock()
}

// Len returns the number of cached images across both cohorts.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alpha) + len(c.nonAlpha)
}

// Decodes returns how many decodes the cache has performed.
func (c *ImageCache) Decodes() uint64 {
	return c.decodes.Load()
}
