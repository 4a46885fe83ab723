package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
)

type serialItem struct {
	seq  int32
	task Task
}

// Serial is a single ordered lane. Tasks run one at a time on a dedicated
// goroutine in the order they were dispatched, off the dispatching goroutine.
// Callers that number their tasks must dispatch them in sequence order.
type Serial struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []serialItem
	closed  bool
	running bool

	done chan struct{}
}

// NewSerial starts an ordered lane.
func NewSerial(name string) *Serial {
	s := &Serial{
		name: name,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	log.Info("serial lane started", "lane", name)
	return s
}

// Dispatch queues task behind everything dispatched before it. It never
// blocks on the task queue. Returns false once the lane is draining.
func (s *Serial) Dispatch(seq int32, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.pending = append(s.pending, serialItem{seq: seq, task: task})
	s.cond.Signal()
	return true
}

// Pending returns the number of tasks queued or running.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	if s.running {
		n++
	}
	return n
}

// Drain stops intake and waits for queued tasks to finish or ctx to expire.
func (s *Serial) Drain(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	select {
	case <-s.done:
		log.Info("serial lane drained", "lane", s.name)
	case <-ctx.Done():
		log.Warn("serial lane drain timed out", "lane", s.name, "pending", s.Pending())
	}
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		item := s.pending[0]
		s.pending[0] = serialItem{}
		s.pending = s.pending[1:]
		s.running = true
		s.mu.Unlock()

		s.run(item)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}
}

func (s *Serial) run(item serialItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("serial task panicked", "lane", s.name, "seq", item.seq, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	item.task()
}
