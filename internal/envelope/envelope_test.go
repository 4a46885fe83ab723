package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/screenhost/internal/protocol"
)

type countingCodec struct {
	calls   atomic.Int32
	delay   time.Duration
	failFor atomic.Int32

	mu      sync.Mutex
	buffers []*protocol.Buffer
}

func (c *countingCodec) Compress(kind protocol.Kind, args []any) (*protocol.Buffer, error) {
	n := c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.failFor.Load() > 0 {
		c.failFor.Add(-1)
		return nil, errors.New("codec failure")
	}
	b := protocol.NewBuffer([]byte(fmt.Sprintf("%s:%v:%d", kind, args, n)))
	c.mu.Lock()
	c.buffers = append(c.buffers, b)
	c.mu.Unlock()
	return b, nil
}

func TestCompressedComputedOnceUnderContention(t *testing.T) {
	codec := &countingCodec{delay: 20 * time.Millisecond}
	p := NewPool(codec)
	e := p.Acquire(protocol.KindSegment, 1, 2)

	const holders = 16
	for i := 1; i < holders; i++ {
		e.AddHolder()
	}

	results := make([][]byte, holders)
	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := e.Compressed()
			if err != nil {
				t.Errorf("Compressed: %v", err)
				return
			}
			results[i] = bytes.Clone(data)
		}(i)
	}
	wg.Wait()

	if got := codec.calls.Load(); got != 1 {
		t.Fatalf("codec called %d times, want 1", got)
	}
	for i := 1; i < holders; i++ {
		if !bytes.Equal(results[i], results[0]) {
			t.Fatalf("holder %d saw %q, holder 0 saw %q", i, results[i], results[0])
		}
	}

	for i := 0; i < holders; i++ {
		e.Release()
	}
}

func TestCodecErrorIsNotMemoised(t *testing.T) {
	codec := &countingCodec{}
	codec.failFor.Store(1)
	p := NewPool(codec)
	e := p.Acquire(protocol.KindFrame)
	defer e.Release()

	if _, err := e.Compressed(); err == nil {
		t.Fatal("expected codec error")
	}
	data, err := e.Compressed()
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(data) == 0 || codec.calls.Load() != 2 {
		t.Fatalf("retry produced %q after %d calls", data, codec.calls.Load())
	}
}

func TestLastReleaseReturnsToPool(t *testing.T) {
	codec := &countingCodec{}
	p := NewPool(codec)

	e := p.Acquire(protocol.KindSegment, "a")
	e.AddHolder()
	e.AddHolder()
	if _, err := e.Compressed(); err != nil {
		t.Fatalf("Compressed: %v", err)
	}

	e.Release()
	e.Release()
	if p.FreeCount() != 0 {
		t.Fatal("envelope returned to pool before the last release")
	}
	if codec.buffers[0].Released() {
		t.Fatal("compressed storage freed before the last release")
	}

	e.Release()
	if p.FreeCount() != 1 {
		t.Fatalf("FreeCount() = %d, want 1", p.FreeCount())
	}
	if !codec.buffers[0].Released() {
		t.Fatal("compressed storage not freed on the last release")
	}
	if e.Kind() != "" {
		t.Fatalf("released envelope kept kind %q", e.Kind())
	}

	again := p.Acquire(protocol.KindError)
	if again != e {
		t.Fatal("Acquire did not reuse the free envelope")
	}
	if p.Allocated() != 1 {
		t.Fatalf("Allocated() = %d, want 1", p.Allocated())
	}
	data, _ := again.Compressed()
	if !bytes.HasPrefix(data, []byte("error:")) {
		t.Fatalf("reused envelope returned stale bytes %q", data)
	}
	again.Release()
}

func TestPoolConservation(t *testing.T) {
	p := NewPool(&countingCodec{})

	// Warm the pool with three envelopes.
	warm := []*Envelope{p.Acquire(protocol.KindSegment), p.Acquire(protocol.KindSegment), p.Acquire(protocol.KindSegment)}
	for _, e := range warm {
		e.Release()
	}
	before := p.FreeCount()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := p.Acquire(protocol.KindSegment)
			e.AddHolder()
			e.AddHolder()
			e.Compressed()

			var inner sync.WaitGroup
			for j := 0; j < 3; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					e.Release()
				}()
			}
			inner.Wait()
		}()
	}
	wg.Wait()

	if got := p.FreeCount(); got != p.Allocated() {
		t.Fatalf("FreeCount() = %d, Allocated() = %d; every envelope should be free", got, p.Allocated())
	}
	if p.FreeCount() < before {
		t.Fatalf("pool shrank from %d to %d", before, p.FreeCount())
	}
}

func TestSequentialReuseAllocatesOnce(t *testing.T) {
	p := NewPool(&countingCodec{})
	for i := 0; i < 10; i++ {
		e := p.Acquire(protocol.KindSegment, i)
		e.Release()
	}
	if p.Allocated() != 1 || p.FreeCount() != 1 {
		t.Fatalf("Allocated() = %d, FreeCount() = %d; want 1, 1", p.Allocated(), p.FreeCount())
	}
}

func TestReleaseMisusePanics(t *testing.T) {
	p := NewPool(&countingCodec{})
	e := p.Acquire(protocol.KindSegment)
	e.Release()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("over-release did not panic")
			}
		}()
		e.Release()
	}()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("AddHolder on released envelope did not panic")
			}
		}()
		e.AddHolder()
	}()

	if p.FreeCount() != 1 {
		t.Fatalf("misuse changed the free list: FreeCount() = %d", p.FreeCount())
	}
}

func TestWithProtocolCodec(t *testing.T) {
	codec, err := protocol.NewCodec(2, 512)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	defer codec.Close()

	p := NewPool(codec)
	e := p.Acquire(protocol.KindReadInputEvents, 27)
	data, err := e.Compressed()
	if err != nil {
		t.Fatalf("Compressed: %v", err)
	}
	msg, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var grant int
	if err := msg.Arg(0, &grant); err != nil || grant != 27 {
		t.Fatalf("grant = %d, err = %v", grant, err)
	}
	e.Release()
}
