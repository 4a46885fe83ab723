//go:build !linux && !windows && !(darwin && cgo)

package desktop

// ListDevices returns ErrNotSupported on platforms without a capture library.
func ListDevices() ([]ScreenDevice, error) {
	return nil, ErrNotSupported
}
