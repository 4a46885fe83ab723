//go:build !linux && !((darwin || windows) && cgo)

package desktop

// NewControlSurface returns ErrNotSupported on this platform.
func NewControlSurface() (ControlSurface, error) {
	return nil, ErrNotSupported
}
