// Package envelope provides pooled, reference-counted outbound events that
// are compressed at most once no matter how many clients send them.
package envelope

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/protocol"
)

// Codec compresses one event into pooled storage.
type Codec interface {
	Compress(kind protocol.Kind, args []any) (*protocol.Buffer, error)
}

// Pool recycles envelopes. The free list has its own lock, which is never
// held together with an envelope's lock.
type Pool struct {
	codec Codec

	mu        sync.Mutex
	free      []*Envelope
	allocated int
}

// NewPool returns an empty pool whose envelopes compress with codec.
func NewPool(codec Codec) *Pool {
	return &Pool{codec: codec}
}

// Acquire returns an envelope for kind and args with one holder.
func (p *Pool) Acquire(kind protocol.Kind, args ...any) *Envelope {
	p.mu.Lock()
	var e *Envelope
	if n := len(p.free); n > 0 {
		e = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		p.allocated++
	}
	p.mu.Unlock()

	if e == nil {
		e = &Envelope{pool: p}
	}

	e.mu.Lock()
	e.kind = kind
	e.args = args
	e.refs = 1
	e.compressed.Store(nil)
	e.mu.Unlock()
	return e
}

// FreeCount returns the number of envelopes waiting on the free list.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated returns how many envelopes the pool has ever created.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *Pool) put(e *Envelope) {
	p.mu.Lock()
	p.free = append(p.free, e)
	p.mu.Unlock()
}

// Envelope is one outbound event shared by every client it is sent to. Each
// holder calls Release exactly once.
type Envelope struct {
	pool *Pool

	mu   sync.Mutex
	kind protocol.Kind
	args []any
	refs int

	compressed atomic.Pointer[protocol.Buffer]
}

// Kind returns the event kind.
func (e *Envelope) Kind() protocol.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind
}

// AddHolder registers one more holder that will call Release.
func (e *Envelope) AddHolder() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs <= 0 {
		panic("envelope: AddHolder on a released envelope")
	}
	e.refs++
}

// Compressed returns the compressed event, computing it on first use. The
// slice is valid until the caller's Release. Codec errors are returned and
// the next call tries again.
func (e *Envelope) Compressed() ([]byte, error) {
	if b := e.compressed.Load(); b != nil {
		return b.Bytes(), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.compressed.Load(); b != nil {
		return b.Bytes(), nil
	}
	if e.refs <= 0 {
		panic("envelope: Compressed on a released envelope")
	}

	b, err := e.pool.codec.Compress(e.kind, e.args)
	if err != nil {
		return nil, fmt.Errorf("envelope: compress %s: %w", e.kind, err)
	}
	e.compressed.Store(b)
	return b.Bytes(), nil
}

// Release drops one holder. The last release frees the compressed storage
// and returns the envelope to its pool. Releasing more times than there are
// holders panics.
func (e *Envelope) Release() {
	e.mu.Lock()
	if e.refs <= 0 {
		e.mu.Unlock()
		panic("envelope: release of a released envelope")
	}
	e.refs--
	if e.refs > 0 {
		e.mu.Unlock()
		return
	}
	b := e.compressed.Swap(nil)
	e.kind = ""
	e.args = nil
	e.mu.Unlock()

	if b != nil {
		b.Release()
	}
	e.pool.put(e)
}
