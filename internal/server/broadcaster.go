package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/breeze-rmm/screenhost/internal/health"
	"github.com/breeze-rmm/screenhost/internal/logging"
	"github.com/breeze-rmm/screenhost/internal/protocol"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
)

const metricsInterval = 10 * time.Second

// tile is one fixed region of the screen and the buffer it is read into.
// The buffer is reused every tick, so its derived image is retired before
// each read.
type tile struct {
	rect image.Rectangle
	buf  []uint32
}

// layoutTiles splits a width×height screen into tiles of at most size
// pixels per side. Tiles are kept strictly smaller than the screen.
func layoutTiles(width, height, size int) []tile {
	size = min(size, width-1, height-1)
	if size <= 0 {
		return nil
	}
	var tiles []tile
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			r := image.Rect(x, y, min(x+size, width), min(y+size, height))
			tiles = append(tiles, tile{rect: r, buf: make([]uint32, r.Dx()*r.Dy())})
		}
	}
	return tiles
}

// broadcaster pushes the changed tiles of one device to every client
// watching it.
type broadcaster struct {
	dev     *device
	server  *Server
	encoder desktop.Encoder
	quality *desktop.AdaptiveQuality
	limiter *rate.Limiter
	differ  *desktop.TileDiffer
	metrics *desktop.StreamMetrics
	log     *slog.Logger

	tiles   []tile
	refresh atomic.Bool
	done    chan struct{}
}

func newBroadcaster(s *Server, dev *device) *broadcaster {
	b := &broadcaster{
		dev:     dev,
		server:  s,
		encoder: s.encoder(),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.FrameRate), 1),
		differ:  desktop.NewTileDiffer(),
		metrics: desktop.NewStreamMetrics(),
		log:     log.With(logging.KeyDevice, dev.info.ID),
		done:    make(chan struct{}),
	}
	if b.encoder.Format == "jpeg" {
		b.quality = desktop.NewAdaptiveQuality(b.encoder.Quality)
	}
	bounds := dev.info.EffectiveBounds()
	b.tiles = layoutTiles(bounds.Dx(), bounds.Dy(), s.cfg.TileSize)
	return b
}

// requestRefresh makes the next tick send every tile, e.g. for a new watcher.
func (b *broadcaster) requestRefresh() {
	b.refresh.Store(true)
}

func (b *broadcaster) run(ctx context.Context) {
	defer close(b.done)
	if len(b.tiles) == 0 {
		b.log.Error("screen too small to tile", "bounds", b.dev.info.EffectiveBounds().String())
		b.server.health.Update(b.dev.component(), health.Unhealthy, "screen too small")
		return
	}

	lastLog := time.Now()
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		b.tick()

		if time.Since(lastLog) >= metricsInterval {
			lastLog = time.Now()
			b.logMetrics()
		}
	}
}

func (b *broadcaster) tick() {
	watchers := b.server.hub.watchers(b.dev)
	if len(watchers) == 0 {
		return
	}
	if b.refresh.Swap(false) {
		b.differ.Reset()
	}

	b.dev.snapshot.MarkDirty()
	start := time.Now()
	changed, fast, err := b.readTiles()
	if err != nil {
		b.log.Warn("screen capture failed", logging.KeyError, err)
		b.server.health.Update(b.dev.component(), health.Degraded, err.Error())
		return
	}
	b.metrics.RecordCapture(time.Since(start), fast)
	b.server.health.Update(b.dev.component(), health.Healthy, "")

	if len(changed) == 0 {
		b.metrics.RecordSkip()
		return
	}
	b.fanOut(b.encodeTiles(changed), watchers)
	if b.quality != nil {
		b.quality.Adjust()
	}
}

// readTiles reads every tile from the snapshot and returns the ones whose
// pixels changed. The first read performs the capture.
func (b *broadcaster) readTiles() (changed []*tile, fast bool, err error) {
	fast = true
	for i := range b.tiles {
		t := &b.tiles[i]
		b.dev.images.Retire(t.buf)
		usedFast, err := b.dev.snapshot.Read(t.buf, t.rect.Min.X, t.rect.Min.Y, t.rect.Dx(), t.rect.Dy())
		if err != nil {
			return nil, false, err
		}
		fast = fast && usedFast
		if b.differ.HasChanged(t.rect.Min, t.buf) {
			changed = append(changed, t)
		}
	}
	return changed, fast, nil
}

type encodedTile struct {
	seg  protocol.Segment
	took time.Duration
	ok   bool
}

// encodeTiles encodes changed tiles on the shared encode pool.
func (b *broadcaster) encodeTiles(changed []*tile) []encodedTile {
	enc := b.encoder
	if b.quality != nil {
		enc.Quality = b.quality.Quality()
	}
	out := make([]encodedTile, len(changed))

	var wg sync.WaitGroup
	for i, t := range changed {
		wg.Add(1)
		b.server.encoders.Go(func() {
			defer wg.Done()
			w, h := t.rect.Dx(), t.rect.Dy()
			start := time.Now()
			img := b.dev.images.Get(t.buf, w*h, w, h, false)
			data, err := enc.Encode(img)
			if err != nil {
				b.log.Warn("segment encode failed", "tile", t.rect.String(), logging.KeyError, err)
				return
			}
			took := time.Since(start)
			b.metrics.RecordEncode(took, len(data))
			out[i] = encodedTile{
				seg: protocol.Segment{
					X:      t.rect.Min.X,
					Y:      t.rect.Min.Y,
					Width:  w,
					Height: h,
					Format: enc.Format,
					Data:   data,
				},
				took: took,
				ok:   true,
			}
		})
	}
	wg.Wait()
	return out
}

// fanOut wraps each segment in one envelope shared by all watchers. Every
// holder is registered before the first client can release.
func (b *broadcaster) fanOut(tiles []encodedTile, watchers []*Client) {
	for _, et := range tiles {
		if !et.ok {
			continue
		}
		env := b.server.envelopes.Acquire(protocol.KindSegment, et.seg)
		for range watchers[1:] {
			env.AddHolder()
		}
		dropped := false
		for _, c := range watchers {
			if err := c.enqueue(env); err != nil {
				b.metrics.RecordDrop()
				dropped = true
				continue
			}
			b.metrics.RecordSend(len(et.seg.Data))
		}
		if dropped {
			// A watcher missed a tile; resend everything next tick.
			b.requestRefresh()
		}
		if b.quality != nil {
			b.quality.Record(et.took, len(et.seg.Data), dropped)
		}
	}
}

func (b *broadcaster) logMetrics() {
	m := b.metrics.Snapshot()
	total, skipped := b.differ.Stats()
	width, height := b.dev.snapshot.Size()
	b.log.Info("screen stream metrics",
		"ticks", m.Ticks,
		"idleTicks", m.TicksSkipped,
		"fastPathMisses", m.FastPathMisses,
		"segmentsSent", m.SegmentsSent,
		"segmentsDropped", m.SegmentsDropped,
		"tilesChecked", total,
		"tilesUnchanged", skipped,
		"captureMs", fmt.Sprintf("%.1f", m.CaptureMs),
		"encodeMs", fmt.Sprintf("%.1f", m.EncodeMs),
		"bandwidthKBps", fmt.Sprintf("%.1f", m.BandwidthKBps),
		"captures", b.dev.snapshot.Captures(),
		"snapshot", fmt.Sprintf("%dx%d", width, height),
		"cachedImages", b.dev.images.Len(),
		"jpegQuality", b.jpegQuality(),
	)
}

func (b *broadcaster) jpegQuality() int {
	if b.quality == nil {
		return b.encoder.Quality
	}
	return b.quality.Quality()
}
