package desktop

import (
	"encoding/binary"
	"image"
)

// bgraToARGB converts little-endian BGRA/BGRX rows (X11 ZPixmap at depth 24
// or 32, DXGI) to 0xAARRGGBB pixels. The alpha byte is forced to 0xFF since
// the X byte is undefined.
func bgraToARGB(dst []uint32, bgra []byte, width, height, stride int) {
	for y := 0; y < height; y++ {
		row := bgra[y*stride : y*stride+width*4]
		out := dst[y*width : y*width+width]
		for x := range out {
			out[x] = binary.LittleEndian.Uint32(row[x*4:]) | 0xFF000000
		}
	}
}

// rgbaToARGB converts an *image.RGBA to 0xAARRGGBB pixels.
func rgbaToARGB(dst []uint32, img *image.RGBA) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		out := dst[y*width : y*width+width]
		for x := range out {
			pi := x * 4
			out[x] = uint32(row[pi+3])<<24 | uint32(row[pi])<<16 | uint32(row[pi+1])<<8 | uint32(row[pi+2])
		}
	}
}

// argbToNRGBA decodes 0xAARRGGBB pixels to a non-premultiplied image.
func argbToNRGBA(pix []uint32, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, p := range pix[:width*height] {
		pi := i * 4
		img.Pix[pi] = byte(p >> 16)
		img.Pix[pi+1] = byte(p >> 8)
		img.Pix[pi+2] = byte(p)
		img.Pix[pi+3] = byte(p >> 24)
	}
	return img
}

// argbToRGBA decodes 0xAARRGGBB pixels to an opaque image, ignoring alpha.
func argbToRGBA(pix []uint32, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := range pix[:width*height] {
		pi := i * 4
		img.Pix[pi] = byte(p >> 16)
		img.Pix[pi+1] = byte(p >> 8)
		img.Pix[pi+2] = byte(p)
		img.Pix[pi+3] = 0xFF
	}
	return img
}

// parseHexColor parses "rrggbb" as returned by robotgo into 0xFFRRGGBB.
func parseHexColor(s string) (uint32, bool) {
	if len(s) != 6 {
		return 0, false
	}
	var v uint32
	for i := 0; i < 6; i++ {
		c := s[i]
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, false
		}
		v = v<<4 | uint32(d)
	}
	return v | 0xFF000000, true
}
