//go:build (darwin || windows) && cgo

package desktop

import (
	"fmt"
	"image"
	"sync"

	"github.com/go-vgo/robotgo"
)

// robotgoSurface injects input and reads pixels through robotgo.
type robotgoSurface struct {
	mu sync.Mutex
}

// NewControlSurface opens the platform control surface.
func NewControlSurface() (ControlSurface, error) {
	return &robotgoSurface{}, nil
}

func buttonName(button int) (string, error) {
	switch button {
	case 1:
		return "left", nil
	case 2:
		return "center", nil
	case 3:
		return "right", nil
	default:
		return "", fmt.Errorf("invalid pointer button %d", button)
	}
}

func (s *robotgoSurface) PointerMove(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	robotgo.Move(x, y)
	return nil
}

func (s *robotgoSurface) PointerPress(button int) error {
	name, err := buttonName(button)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return robotgo.Toggle(name, "down")
}

func (s *robotgoSurface) PointerRelease(button int) error {
	name, err := buttonName(button)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return robotgo.Toggle(name, "up")
}

func (s *robotgoSurface) Wheel(amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	robotgo.Scroll(0, -amount)
	return nil
}

func (s *robotgoSurface) KeyPress(code int) error {
	name, err := keysymName(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return robotgo.KeyToggle(name, "down")
}

func (s *robotgoSurface) KeyRelease(code int) error {
	name, err := keysymName(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return robotgo.KeyToggle(name, "up")
}

func (s *robotgoSurface) ReadPixel(x, y int) (uint32, error) {
	s.mu.Lock()
	hex := robotgo.GetPixelColor(x, y)
	s.mu.Unlock()
	px, ok := parseHexColor(hex)
	if !ok {
		return 0, fmt.Errorf("unexpected pixel color %q at %d,%d", hex, x, y)
	}
	return px, nil
}

// ReadPixels queries one pixel at a time. It is the slow path behind the
// negotiated strategy and only runs when that fails.
func (s *robotgoSurface) ReadPixels(r image.Rectangle) ([]uint32, error) {
	out := make([]uint32, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px, err := s.ReadPixel(x, y)
			if err != nil {
				return nil, err
			}
			out = append(out, px)
		}
	}
	return out, nil
}

func (s *robotgoSurface) Close() error { return nil }
