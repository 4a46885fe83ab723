package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to a pool or lane.
type Task func()

// Pool is a bounded goroutine pool with a fixed-size task queue. The screen
// broadcaster uses it to encode changed segments in parallel.
type Pool struct {
	name      string
	queue     chan Task
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	rejected  atomic.Uint64
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
func New(name string, maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:     name,
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Info("worker pool started", "pool", name, "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task. Returns false if the pool is stopped or the queue is full.
// wg.Add is called here (before enqueue) to prevent a race with Drain.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		p.rejected.Add(1)
		log.Debug("worker pool queue full, task rejected", "pool", p.name)
		return false
	}
}

// Go runs task on the pool, or inline on the caller's goroutine when the
// pool refuses it, so the work is never lost.
func (p *Pool) Go(task Task) {
	if !p.Submit(task) {
		p.runTask(task, false)
	}
}

// Context is cancelled once the pool has been drained.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Rejected returns how many submissions found the queue full.
func (p *Pool) Rejected() uint64 {
	return p.rejected.Load()
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Shutdown stops intake and drains queued work within ctx's deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

// Drain waits for all in-flight and queued tasks to complete, respecting the
// context deadline. Intake is stopped if it was not already. After Drain
// returns the queue channel is closed so worker goroutines exit.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained", "pool", p.name)
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "pool", p.name)
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.cancel()
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task, true)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task, true)
				default:
					return
				}
			}
		}
	}
}

// runTask executes a single task with panic recovery. queued tasks carry a
// wg.Add from Submit that is matched here.
func (p *Pool) runTask(task Task, queued bool) {
	if queued {
		defer p.wg.Done()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
