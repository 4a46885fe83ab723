package desktop

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/logging"
)

var log = logging.L("desktop")

// Backend is the capture backend negotiated for one device. The strategy is
// chosen once in NewBackend; afterwards the backend only reads pixels.
type Backend struct {
	device   ScreenDevice
	strategy string
	reader   PixelReader
	surface  ControlSurface

	fallbacks atomic.Uint64
	closeOnce sync.Once
}

// NewBackend tries strategies in order and keeps the first one whose
// Available and Bind both succeed. A missing control surface or an empty
// table is an environment error: the device cannot be served.
func NewBackend(dev ScreenDevice, surface ControlSurface, strategies []Strategy) (*Backend, error) {
	if surface == nil {
		return nil, fmt.Errorf("device %s: %w", dev.ID, ErrNoControlSurface)
	}

	var errs []error
	for _, s := range strategies {
		if s.Available != nil {
			if err := s.Available(); err != nil {
				log.Debug("capture strategy unavailable", logging.KeyDevice, dev.ID, logging.KeyStrategy, s.Name, logging.KeyError, err)
				errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
				continue
			}
		}
		if s.Bind == nil {
			continue
		}
		reader, err := s.Bind(dev)
		if err != nil {
			log.Debug("capture strategy bind failed", logging.KeyDevice, dev.ID, logging.KeyStrategy, s.Name, logging.KeyError, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}

		log.Info("capture backend selected", logging.KeyDevice, dev.ID, logging.KeyStrategy, s.Name,
			"bounds", dev.EffectiveBounds().String())
		return &Backend{
			device:   dev,
			strategy: s.Name,
			reader:   reader,
			surface:  surface,
		}, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("device %s: %w", dev.ID, ErrNoCaptureBackend)
	}
	return nil, fmt.Errorf("device %s: %w: %w", dev.ID, ErrNoCaptureBackend, errors.Join(errs...))
}

// Device returns the device this backend serves.
func (b *Backend) Device() ScreenDevice { return b.device }

// Strategy returns the name of the negotiated strategy.
func (b *Backend) Strategy() string { return b.strategy }

// Surface returns the control surface used for input and slow reads.
func (b *Backend) Surface() ControlSurface { return b.surface }

// Fallbacks returns how many captures had to use the generic path.
func (b *Backend) Fallbacks() uint64 { return b.fallbacks.Load() }

// CaptureInto reads bounds into dst. It tries the fast path first; when that
// fails the error is logged and the generic surface query is used for this
// call only. usedFastPath tells the caller which path produced the pixels.
func (b *Backend) CaptureInto(dst []uint32, bounds image.Rectangle) (usedFastPath bool, err error) {
	n := bounds.Dx() * bounds.Dy()
	if n <= 0 || len(dst) < n {
		panic(fmt.Sprintf("desktop: capture buffer of %d pixels too small for %v", len(dst), bounds))
	}

	fastErr := b.reader.ReadInto(dst, bounds)
	if fastErr == nil {
		return true, nil
	}
	log.Warn("fast capture failed, using generic path", logging.KeyDevice, b.device.ID,
		logging.KeyStrategy, b.strategy, logging.KeyError, fastErr)
	b.fallbacks.Add(1)

	pix, err := b.surface.ReadPixels(bounds)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCaptureFailed, errors.Join(fastErr, err))
	}
	if len(pix) < n {
		return false, fmt.Errorf("%w: generic path returned %d of %d pixels", ErrCaptureFailed, len(pix), n)
	}
	copy(dst, pix[:n])
	return false, nil
}

// Close releases the reader and the control surface. Safe to call more
// than once.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = errors.Join(b.reader.Close(), b.surface.Close())
		log.Info("capture backend closed", logging.KeyDevice, b.device.ID, logging.KeyStrategy, b.strategy)
	})
	return err
}
