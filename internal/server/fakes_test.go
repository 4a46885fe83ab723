package server

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/config"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
)

// fakeReader paints every pixel with the current generation so tests can
// make the whole screen change at will.
type fakeReader struct {
	generation atomic.Uint32
	reads      atomic.Int32
	fail       atomic.Bool
}

func (r *fakeReader) ReadInto(dst []uint32, bounds image.Rectangle) error {
	r.reads.Add(1)
	if r.fail.Load() {
		return fmt.Errorf("fake read failed")
	}
	g := r.generation.Load()
	for i := range dst[:bounds.Dx()*bounds.Dy()] {
		dst[i] = 0xFF000000 | g<<8 | uint32(i&0xFF)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeSurface struct {
	mu     sync.Mutex
	moves  []image.Point
	keys   []int
	closed bool
}

func (s *fakeSurface) PointerMove(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, image.Pt(x, y))
	return nil
}

func (s *fakeSurface) KeyPress(code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, code)
	return nil
}

func (s *fakeSurface) PointerPress(int) error   { return nil }
func (s *fakeSurface) PointerRelease(int) error { return nil }
func (s *fakeSurface) Wheel(int) error          { return nil }
func (s *fakeSurface) KeyRelease(int) error     { return nil }

func (s *fakeSurface) ReadPixel(x, y int) (uint32, error) { return 0, desktop.ErrNotSupported }

func (s *fakeSurface) ReadPixels(image.Rectangle) ([]uint32, error) {
	return nil, desktop.ErrNotSupported
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) moveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moves)
}

// fakeSource serves screen 0 from a fakeReader. Screen 1 exists but no
// capture strategy can serve it.
type fakeSource struct {
	reader  *fakeReader
	surface *fakeSurface
	opens   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{reader: &fakeReader{}, surface: &fakeSurface{}}
}

func (f *fakeSource) List() ([]desktop.ScreenDevice, error) {
	return []desktop.ScreenDevice{
		{Index: 0, ID: "display-0", Bounds: image.Rect(0, 0, 64, 48)},
		{Index: 1, ID: "display-1", Origin: image.Pt(64, 0), Bounds: image.Rect(0, 0, 32, 32)},
	}, nil
}

func (f *fakeSource) Open(dev desktop.ScreenDevice, _ []string) (*desktop.Backend, error) {
	f.opens.Add(1)
	strategy := desktop.Strategy{
		Name:      "fake",
		Available: func() error { return nil },
		Bind: func(desktop.ScreenDevice) (desktop.PixelReader, error) {
			return f.reader, nil
		},
	}
	if dev.Index == 1 {
		strategy.Available = func() error { return fmt.Errorf("fake: no shm") }
	}
	return desktop.NewBackend(dev, f.surface, []desktop.Strategy{strategy})
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FrameRate = 50
	cfg.TileSize = 32
	cfg.MaxInputQueue = 8
	cfg.SendQueueSize = 64
	cfg.EncodeWorkers = 2
	cfg.AuthToken = "secret"
	return cfg
}
