package desktop

import (
	"image"
	"testing"
)

func TestBGRAtoARGB_2x2(t *testing.T) {
	// (0,0)=red, (1,0)=green, (0,1)=blue, (1,1)=white, X byte = 0
	bgra := []byte{
		0, 0, 255, 0, 0, 255, 0, 0,
		255, 0, 0, 0, 255, 255, 255, 0,
	}
	dst := make([]uint32, 4)
	bgraToARGB(dst, bgra, 2, 2, 2*4)

	want := []uint32{0xFFFF0000, 0xFF00FF00, 0xFF0000FF, 0xFFFFFFFF}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("pixel[%d]: expected %#08x, got %#08x", i, want[i], dst[i])
		}
	}
}

func TestBGRAtoARGB_Stride(t *testing.T) {
	// 1x2 image with 4 bytes of row padding
	bgra := []byte{
		1, 2, 3, 0, 9, 9, 9, 9,
		4, 5, 6, 0, 9, 9, 9, 9,
	}
	dst := make([]uint32, 2)
	bgraToARGB(dst, bgra, 1, 2, 8)

	if dst[0] != 0xFF030201 || dst[1] != 0xFF060504 {
		t.Fatalf("unexpected pixels %#08x %#08x", dst[0], dst[1])
	}
}

func TestRGBARoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	copy(src.Pix, []byte{10, 20, 30, 255, 40, 50, 60, 255})

	pix := make([]uint32, 2)
	rgbaToARGB(pix, src)
	if pix[0] != 0xFF0A141E {
		t.Fatalf("expected 0xFF0A141E, got %#08x", pix[0])
	}

	back := argbToRGBA(pix, 2, 1)
	for i := range src.Pix {
		if back.Pix[i] != src.Pix[i] {
			t.Fatalf("byte[%d]: expected %d, got %d", i, src.Pix[i], back.Pix[i])
		}
	}
}

func TestARGBtoNRGBAKeepsAlpha(t *testing.T) {
	img := argbToNRGBA([]uint32{0x80102030}, 1, 1)
	want := []byte{0x10, 0x20, 0x30, 0x80}
	for i := range want {
		if img.Pix[i] != want[i] {
			t.Fatalf("byte[%d]: expected %#x, got %#x", i, want[i], img.Pix[i])
		}
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"ff0000", 0xFFFF0000, true},
		{"00FF7f", 0xFF00FF7F, true},
		{"fff", 0, false},
		{"zz0000", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseHexColor(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseHexColor(%q) = %#08x, %v; want %#08x, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
