package desktop

import (
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Encoder turns derived images into segment payloads.
type Encoder struct {
	// Format is "png" or "jpeg"
	Format string

	// Quality is the JPEG quality (1-100)
	Quality int

	// Scale downscales images before encoding (1.0 = full resolution)
	Scale float64
}

// Encode scales img when configured and encodes it. The returned slice is
// owned by the caller.
func (e Encoder) Encode(img image.Image) ([]byte, error) {
	img = ScaleImage(img, e.Scale)
	switch e.Format {
	case "jpeg":
		return EncodeJPEG(img, e.Quality)
	case "png", "":
		return EncodePNG(img)
	default:
		return nil, fmt.Errorf("unsupported image format %q", e.Format)
	}
}

// EncodeJPEG encodes an image as JPEG with the specified quality (1-100)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	quality = max(1, min(quality, 100))

	buf := getBuffer()
	defer putBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// EncodePNG encodes an image as PNG (lossless)
func EncodePNG(img image.Image) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := pngEncoder.Encode(buf, img); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// ScaleImage scales an image by the given factor (0.0-1.0). Factors at or
// above 1 return img unchanged.
func ScaleImage(img image.Image, factor float64) image.Image {
	if factor >= 1.0 || factor == 0 {
		return img
	}
	if factor < 0 {
		factor = 0.1
	}

	bounds := img.Bounds()
	newWidth := max(1, int(float64(bounds.Dx())*factor))
	newHeight := max(1, int(float64(bounds.Dy())*factor))

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
	return scaled
}
