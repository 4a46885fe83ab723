package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
)

// DeviceSource enumerates displays and opens capture backends for them.
type DeviceSource interface {
	List() ([]desktop.ScreenDevice, error)
	Open(dev desktop.ScreenDevice, strategies []string) (*desktop.Backend, error)
}

// PlatformDevices is the DeviceSource for the host this process runs on.
type PlatformDevices struct{}

func (PlatformDevices) List() ([]desktop.ScreenDevice, error) {
	return desktop.ListDevices()
}

func (PlatformDevices) Open(dev desktop.ScreenDevice, strategies []string) (*desktop.Backend, error) {
	surface, err := desktop.NewControlSurface()
	if err != nil {
		return nil, err
	}
	candidates := desktop.SelectStrategies(desktop.DefaultStrategies(), strategies)
	b, err := desktop.NewBackend(dev, surface, candidates)
	if err != nil {
		surface.Close()
		return nil, err
	}
	return b, nil
}

// device is the capture bundle for one open screen.
type device struct {
	info        desktop.ScreenDevice
	backend     *desktop.Backend
	snapshot    *desktop.SnapshotCache
	images      *desktop.ImageCache
	broadcaster *broadcaster
}

func (d *device) component() string {
	return fmt.Sprintf("capture:%d", d.info.Index)
}

// isEnvironmentError reports errors that mean a device can never be served
// by this process.
func isEnvironmentError(err error) bool {
	return errors.Is(err, desktop.ErrNoCaptureBackend) ||
		errors.Is(err, desktop.ErrNoControlSurface) ||
		errors.Is(err, desktop.ErrNotSupported)
}

// registry opens devices lazily, once. A device whose backend failed with an
// environment error stays failed for the life of the registry.
type registry struct {
	src        DeviceSource
	strategies []string
	build      func(info desktop.ScreenDevice, b *desktop.Backend) *device

	mu     sync.Mutex
	open   map[int]*device
	failed map[int]error
}

func newRegistry(src DeviceSource, strategies []string, build func(desktop.ScreenDevice, *desktop.Backend) *device) *registry {
	return &registry{
		src:        src,
		strategies: strategies,
		build:      build,
		open:       make(map[int]*device),
		failed:     make(map[int]error),
	}
}

// get returns the open device for index, opening it on first use.
func (r *registry) get(index int) (*device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.open[index]; ok {
		return d, nil
	}
	if err, ok := r.failed[index]; ok {
		return nil, err
	}

	devices, err := r.src.List()
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	var info *desktop.ScreenDevice
	for i := range devices {
		if devices[i].Index == index {
			info = &devices[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("screen %d: %w", index, desktop.ErrDisplayNotFound)
	}

	b, err := r.src.Open(*info, r.strategies)
	if err != nil {
		if isEnvironmentError(err) {
			r.failed[index] = err
		}
		return nil, err
	}

	d := r.build(*info, b)
	r.open[index] = d
	return d, nil
}

// list returns the open devices.
func (r *registry) list() []*device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*device, 0, len(r.open))
	for _, d := range r.open {
		out = append(out, d)
	}
	return out
}

// status returns the negotiated strategy or failure for index.
func (r *registry) status(index int) (strategy string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.open[index]; ok {
		return d.backend.Strategy(), nil
	}
	return "", r.failed[index]
}

// closeAll closes every backend. Broadcasters must already be stopped.
func (r *registry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for index, d := range r.open {
		if err := d.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("screen %d: %w", index, err))
		}
		delete(r.open, index)
	}
	return errors.Join(errs...)
}
