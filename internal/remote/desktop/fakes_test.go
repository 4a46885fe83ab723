package desktop

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// testPixel is the value fakes produce for (x, y) on capture number frame.
func testPixel(frame uint32, x, y int) uint32 {
	return 0xFF000000 | (frame&0xff)<<16 | uint32(y&0xff)<<8 | uint32(x&0xff)
}

type fakeReader struct {
	calls  atomic.Uint32
	fail   atomic.Bool
	delay  time.Duration
	closed atomic.Bool
}

func (r *fakeReader) ReadInto(dst []uint32, bounds image.Rectangle) error {
	frame := r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail.Load() {
		return errors.New("fast path unavailable")
	}
	w := bounds.Dx()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < w; x++ {
			dst[y*w+x] = testPixel(frame, x, y)
		}
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed.Store(true)
	return nil
}

type fakeSurface struct {
	mu     sync.Mutex
	calls  []string
	fail   bool
	reads  int
	closed bool
}

func (s *fakeSurface) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return nil
}

func (s *fakeSurface) PointerMove(x, y int) error      { return s.record("move") }
func (s *fakeSurface) PointerPress(button int) error   { return s.record("press") }
func (s *fakeSurface) PointerRelease(button int) error { return s.record("release") }
func (s *fakeSurface) Wheel(amount int) error          { return s.record("wheel") }
func (s *fakeSurface) KeyPress(code int) error         { return s.record("keydown") }
func (s *fakeSurface) KeyRelease(code int) error       { return s.record("keyup") }

func (s *fakeSurface) ReadPixel(x, y int) (uint32, error) {
	return testPixel(0, x, y), nil
}

func (s *fakeSurface) ReadPixels(r image.Rectangle) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.fail {
		return nil, errors.New("surface read failed")
	}
	out := make([]uint32, 0, r.Dx()*r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out = append(out, testPixel(0, x, y))
		}
	}
	return out, nil
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func testDevice(w, h int) ScreenDevice {
	return ScreenDevice{
		Index:    0,
		ID:       "test",
		Bounds:   image.Rect(0, 0, w, h),
		ModeSize: image.Pt(w, h),
	}
}

func fakeStrategy(name string, r *fakeReader) Strategy {
	return Strategy{
		Name: name,
		Bind: func(ScreenDevice) (PixelReader, error) { return r, nil },
	}
}

func newTestBackend(w, h int, r *fakeReader) (*Backend, *fakeSurface) {
	surface := &fakeSurface{}
	b, err := NewBackend(testDevice(w, h), surface, []Strategy{fakeStrategy("fake", r)})
	if err != nil {
		panic(err)
	}
	return b, surface
}
