package server

import (
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/breeze-rmm/screenhost/internal/protocol"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
)

func TestLayoutTilesCoverScreen(t *testing.T) {
	tests := []struct {
		w, h, size int
		tiles      int
	}{
		{64, 48, 32, 4},
		{100, 100, 128, 4}, // clamped to 99
		{1920, 1080, 128, 15 * 9},
		{2, 2, 128, 4},  // 1px tiles
		{1, 10, 128, 0}, // too narrow
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d/%d", tt.w, tt.h, tt.size), func(t *testing.T) {
			tiles := layoutTiles(tt.w, tt.h, tt.size)
			if len(tiles) != tt.tiles {
				t.Fatalf("tiles = %d, want %d", len(tiles), tt.tiles)
			}
			area := 0
			for _, tile := range tiles {
				if tile.rect.Dx() >= tt.w || tile.rect.Dy() >= tt.h {
					t.Fatalf("tile %v not strictly smaller than %dx%d", tile.rect, tt.w, tt.h)
				}
				if len(tile.buf) != tile.rect.Dx()*tile.rect.Dy() {
					t.Fatalf("tile %v has buffer of %d", tile.rect, len(tile.buf))
				}
				area += tile.rect.Dx() * tile.rect.Dy()
			}
			if tt.tiles > 0 && area != tt.w*tt.h {
				t.Fatalf("tiles cover %d pixels, want %d", area, tt.w*tt.h)
			}
		})
	}
}

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2, time.Minute)
	if !l.Allow("10.0.0.1:1000") || !l.Allow("10.0.0.1:1001") {
		t.Fatal("first two attempts should be allowed")
	}
	if l.Allow("10.0.0.1:1002") {
		t.Fatal("third attempt from the same host should be refused")
	}
	if !l.Allow("10.0.0.2:1000") {
		t.Fatal("other hosts have their own budget")
	}
}

func TestConnLimiterWindowSlides(t *testing.T) {
	l := newConnLimiter(1, 20*time.Millisecond)
	if !l.Allow("10.0.0.1:1") {
		t.Fatal("first attempt refused")
	}
	if l.Allow("10.0.0.1:2") {
		t.Fatal("second attempt inside the window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	l.sweep()
	if !l.Allow("10.0.0.1:3") {
		t.Fatal("attempt after the window refused")
	}
}

type nullTransport struct{ closed bool }

func (t *nullTransport) ReadMessage() ([]byte, error) { return nil, ErrTransportClosed }
func (t *nullTransport) WriteMessage([]byte) error    { return nil }
func (t *nullTransport) Close() error                 { t.closed = true; return nil }
func (t *nullTransport) Kind() string                 { return "null" }

func TestClientQueueDropsAndReleases(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 1
	s, err := New(cfg, WithDeviceSource(newFakeSource()))
	if err != nil {
		t.Fatal(err)
	}
	tr := &nullTransport{}
	c := newClient(s, tr, "127.0.0.1:5000")
	if !s.hub.add(c) {
		t.Fatal("hub refused client")
	}

	if err := c.SendEvent(protocol.KindError, protocol.ErrorInfo{Code: "a"}); err != nil {
		t.Fatalf("first SendEvent: %v", err)
	}
	if err := c.SendEvent(protocol.KindError, protocol.ErrorInfo{Code: "b"}); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("second SendEvent = %v, want ErrSendQueueFull", err)
	}
	if got := s.envelopes.FreeCount(); got != 1 {
		t.Fatalf("free envelopes after drop = %d, want 1", got)
	}

	c.Close()
	if !tr.closed {
		t.Fatal("transport not closed")
	}
	if got := s.envelopes.FreeCount(); got != s.envelopes.Allocated() {
		t.Fatalf("free = %d, allocated = %d after Close", got, s.envelopes.Allocated())
	}
	if s.hub.Count() != 0 {
		t.Fatal("client still in hub after Close")
	}
	if err := c.SendEvent(protocol.KindError, protocol.ErrorInfo{}); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("SendEvent after Close = %v, want ErrClientClosed", err)
	}
}

func TestHubCapAndWatchers(t *testing.T) {
	s, err := New(testConfig(), WithDeviceSource(newFakeSource()))
	if err != nil {
		t.Fatal(err)
	}
	h := newHub(2)
	a := newClient(s, &nullTransport{}, "a")
	b := newClient(s, &nullTransport{}, "b")
	if !h.add(a) || !h.add(b) {
		t.Fatal("hub refused clients under the cap")
	}
	if !h.Full() || h.add(newClient(s, &nullTransport{}, "c")) {
		t.Fatal("hub accepted a client over the cap")
	}

	dev := &device{info: desktop.ScreenDevice{Bounds: image.Rect(0, 0, 8, 8)}}
	a.device.Store(dev)
	if w := h.watchers(dev); len(w) != 1 || w[0] != a {
		t.Fatalf("watchers = %v", w)
	}
	h.remove(a)
	if h.Count() != 1 || len(h.watchers(dev)) != 0 {
		t.Fatal("removed client still tracked")
	}
}

func TestRequestToken(t *testing.T) {
	s, err := New(testConfig(), WithDeviceSource(newFakeSource()))
	if err != nil {
		t.Fatal(err)
	}
	if !s.token.Equal("secret") {
		t.Fatal("token not loaded from config")
	}
	if fmt.Sprint(s.token) != "[REDACTED]" {
		t.Fatal("token printed in clear")
	}
}
