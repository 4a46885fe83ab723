package desktop

import (
	"hash/crc32"
	"image"
	"sync"
	"sync/atomic"
	"unsafe"
)

// TileDiffer detects unchanged tiles via CRC32 of their raw pixels.
type TileDiffer struct {
	mu      sync.Mutex
	hashes  map[image.Point]uint32
	skipped atomic.Uint64
	total   atomic.Uint64
}

func NewTileDiffer() *TileDiffer {
	return &TileDiffer{hashes: make(map[image.Point]uint32)}
}

// HasChanged hashes pix and returns true if it differs from the last hash
// recorded for tile. Returns true the first time a tile is seen.
func (d *TileDiffer) HasChanged(tile image.Point, pix []uint32) bool {
	d.total.Add(1)
	var h uint32
	if len(pix) > 0 {
		h = crc32.ChecksumIEEE(unsafe.Slice((*byte)(unsafe.Pointer(&pix[0])), len(pix)*4))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.hashes[tile]; ok && last == h {
		d.skipped.Add(1)
		return false
	}
	d.hashes[tile] = h
	return true
}

// Reset forgets every tile so the next pass reports all of them as changed
// (e.g. when a new client joins and needs the whole screen).
func (d *TileDiffer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.hashes)
}

// Stats returns (total tiles checked, tiles skipped).
func (d *TileDiffer) Stats() (total, skipped uint64) {
	return d.total.Load(), d.skipped.Load()
}
