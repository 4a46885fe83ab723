package desktop

import (
	"errors"
	"image"
)

// ScreenDevice describes one physical display. Devices are enumerated once and
// never change for the life of the process.
type ScreenDevice struct {
	// Index is the display index as reported by the platform (0 = primary)
	Index int `json:"index"`

	// ID is a stable name for logs and the screens endpoint
	ID string `json:"id"`

	// Origin is the top-left corner of the display in global coordinates
	Origin image.Point `json:"origin"`

	// Bounds are the bounds the windowing system reports for the display
	Bounds image.Rectangle `json:"bounds"`

	// ModeSize is the native display mode size. It can exceed Bounds on
	// scaled desktops.
	ModeSize image.Point `json:"modeSize"`
}

// EffectiveBounds returns the capture rectangle for the device in global
// coordinates. When the native mode is larger than the reported bounds the
// mode size wins.
func (d ScreenDevice) EffectiveBounds() image.Rectangle {
	w := max(d.Bounds.Dx(), d.ModeSize.X)
	h := max(d.Bounds.Dy(), d.ModeSize.Y)
	return image.Rect(d.Origin.X, d.Origin.Y, d.Origin.X+w, d.Origin.Y+h)
}

// PixelReader is a negotiated fast-path readout. ReadInto fills dst with
// 0xAARRGGBB pixels for bounds, row-major, len(dst) >= bounds.Dx()*bounds.Dy().
type PixelReader interface {
	ReadInto(dst []uint32, bounds image.Rectangle) error
	Close() error
}

// ControlSurface is the minimal set of host capabilities needed to serve a
// device: input injection plus a generic, slow pixel query.
type ControlSurface interface {
	PointerMove(x, y int) error
	PointerPress(button int) error
	PointerRelease(button int) error
	Wheel(amount int) error
	KeyPress(code int) error
	KeyRelease(code int) error

	// ReadPixel returns one 0xAARRGGBB pixel
	ReadPixel(x, y int) (uint32, error)

	// ReadPixels returns the pixels of r, row-major
	ReadPixels(r image.Rectangle) ([]uint32, error)

	Close() error
}

// ErrNotSupported is returned when capture or input is not supported on the platform
var ErrNotSupported = errors.New("screen capture not supported on this platform")

// ErrNoCaptureBackend is returned when no capture strategy can serve a device
var ErrNoCaptureBackend = errors.New("no usable capture backend")

// ErrNoControlSurface is returned when the host exposes no control surface
var ErrNoControlSurface = errors.New("no control surface available")

// ErrCaptureFailed is returned when neither the fast path nor the generic
// path produced pixels
var ErrCaptureFailed = errors.New("screen capture failed")

// ErrDisplayNotFound is returned when the specified display is not found
var ErrDisplayNotFound = errors.New("display not found")
