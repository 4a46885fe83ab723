//go:build linux

package desktop

import (
	"fmt"
	"image"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
)

// x11Surface injects input through the XTEST extension and answers generic
// pixel reads with core GetImage requests.
type x11Surface struct {
	mu       sync.Mutex
	conn     *xgb.Conn
	root     xproto.Window
	keycodes map[xproto.Keysym]xproto.Keycode
}

// NewControlSurface opens the platform control surface.
func NewControlSurface() (ControlSurface, error) {
	conn, screen, err := openX11()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoControlSurface, err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: XTEST extension: %w", ErrNoControlSurface, err)
	}

	keycodes, err := loadKeyboardMapping(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrNoControlSurface, err)
	}

	return &x11Surface{conn: conn, root: screen.Root, keycodes: keycodes}, nil
}

// loadKeyboardMapping builds a keysym to keycode table. The first keycode
// carrying a keysym in any column wins.
func loadKeyboardMapping(conn *xgb.Conn) (map[xproto.Keysym]xproto.Keycode, error) {
	setup := xproto.Setup(conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(conn, first, count).Reply()
	if err != nil {
		return nil, fmt.Errorf("GetKeyboardMapping: %w", err)
	}

	per := int(reply.KeysymsPerKeycode)
	table := make(map[xproto.Keysym]xproto.Keycode, len(reply.Keysyms))
	for i, sym := range reply.Keysyms {
		if sym == 0 || per == 0 {
			continue
		}
		if _, ok := table[sym]; !ok {
			table[sym] = xproto.Keycode(int(first) + i/per)
		}
	}
	return table, nil
}

func (s *x11Surface) fake(kind byte, detail byte, x, y int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return xtest.FakeInputChecked(s.conn, kind, detail, 0, s.root, x, y, 0).Check()
}

func (s *x11Surface) PointerMove(x, y int) error {
	return s.fake(xproto.MotionNotify, 0, int16(x), int16(y))
}

func (s *x11Surface) PointerPress(button int) error {
	if button < 1 || button > 255 {
		return fmt.Errorf("invalid pointer button %d", button)
	}
	return s.fake(xproto.ButtonPress, byte(button), 0, 0)
}

func (s *x11Surface) PointerRelease(button int) error {
	if button < 1 || button > 255 {
		return fmt.Errorf("invalid pointer button %d", button)
	}
	return s.fake(xproto.ButtonRelease, byte(button), 0, 0)
}

// Wheel clicks button 5 (down) for positive amounts and button 4 (up) for
// negative ones, once per unit.
func (s *x11Surface) Wheel(amount int) error {
	button := byte(5)
	if amount < 0 {
		button = 4
		amount = -amount
	}
	for i := 0; i < amount; i++ {
		if err := s.fake(xproto.ButtonPress, button, 0, 0); err != nil {
			return err
		}
		if err := s.fake(xproto.ButtonRelease, button, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *x11Surface) keycode(code int) (byte, error) {
	kc, ok := s.keycodes[xproto.Keysym(code)]
	if !ok {
		return 0, fmt.Errorf("no keycode for keysym %#x", code)
	}
	return byte(kc), nil
}

func (s *x11Surface) KeyPress(code int) error {
	kc, err := s.keycode(code)
	if err != nil {
		return err
	}
	return s.fake(xproto.KeyPress, kc, 0, 0)
}

func (s *x11Surface) KeyRelease(code int) error {
	kc, err := s.keycode(code)
	if err != nil {
		return err
	}
	return s.fake(xproto.KeyRelease, kc, 0, 0)
}

func (s *x11Surface) ReadPixel(x, y int) (uint32, error) {
	var px [1]uint32
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := x11GetImage(s.conn, s.root, px[:], image.Rect(x, y, x+1, y+1)); err != nil {
		return 0, err
	}
	return px[0], nil
}

func (s *x11Surface) ReadPixels(r image.Rectangle) ([]uint32, error) {
	out := make([]uint32, r.Dx()*r.Dy())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := x11GetImage(s.conn, s.root, out, r); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *x11Surface) Close() error {
	s.conn.Close()
	return nil
}
