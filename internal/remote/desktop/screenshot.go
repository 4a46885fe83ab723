//go:build linux || windows || (darwin && cgo)

package desktop

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

func init() {
	registerStrategy(Strategy{
		Name:      "screenshot",
		Priority:  30,
		Available: screenshotAvailable,
		Bind:      bindScreenshot,
	})
}

func screenshotAvailable() error {
	if screenshot.NumActiveDisplays() == 0 {
		return ErrDisplayNotFound
	}
	return nil
}

// ListDevices enumerates the active displays.
func ListDevices() ([]ScreenDevice, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, ErrDisplayNotFound
	}
	devices := make([]ScreenDevice, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		devices = append(devices, ScreenDevice{
			Index:    i,
			ID:       fmt.Sprintf("display-%d", i),
			Origin:   b.Min,
			Bounds:   b,
			ModeSize: b.Size(),
		})
	}
	return devices, nil
}

// screenshotReader captures through kbinani/screenshot for one display.
type screenshotReader struct {
	display int
}

// bindScreenshot resolves the display index whose bounds match the device.
func bindScreenshot(dev ScreenDevice) (PixelReader, error) {
	n := screenshot.NumActiveDisplays()
	for i := 0; i < n; i++ {
		if screenshot.GetDisplayBounds(i).Min == dev.Origin {
			return &screenshotReader{display: i}, nil
		}
	}
	if dev.Index >= 0 && dev.Index < n {
		return &screenshotReader{display: dev.Index}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDisplayNotFound, dev.ID)
}

func (r *screenshotReader) ReadInto(dst []uint32, bounds image.Rectangle) error {
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return fmt.Errorf("capture display %d: %w", r.display, err)
	}
	if img.Bounds().Dx() != bounds.Dx() || img.Bounds().Dy() != bounds.Dy() {
		return fmt.Errorf("capture returned %v, want %v", img.Bounds(), bounds)
	}
	rgbaToARGB(dst, img)
	return nil
}

func (r *screenshotReader) Close() error { return nil }
