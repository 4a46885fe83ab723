// Package relay admits client input under credit-based flow control and
// replays it, in arrival order, on a single serial lane.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/screenhost/internal/logging"
	"github.com/breeze-rmm/screenhost/internal/protocol"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
	"github.com/breeze-rmm/screenhost/internal/workerpool"
)

// ErrBadCredit is returned for a credit notification that reports no queued
// events.
var ErrBadCredit = errors.New("relay: credit notification must report queued events")

// CreditSink receives credit grants. Client sessions implement it.
type CreditSink interface {
	SendEvent(kind protocol.Kind, args ...any) error
}

// Option configures a Relay.
type Option func(*Relay)

// WithPlayer replaces the default Replay player.
func WithPlayer(p Player) Option {
	return func(r *Relay) { r.player = p }
}

// Relay is shared by every client of a server. Occupancy counts admitted
// events that have not finished replaying and never exceeds maxQueue.
type Relay struct {
	maxQueue int
	log      *slog.Logger
	player   Player

	mu      sync.Mutex
	lastSeq int32
	lane    *workerpool.Serial
	closed  bool

	occupancy atomic.Int32
	admitted  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a relay that admits at most maxQueue pending events.
func New(maxQueue int, logger *slog.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = logging.L("relay")
	}
	r := &Relay{
		maxQueue: max(1, maxQueue),
		log:      logger,
		player:   Replay,
		lastSeq:  -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxQueue returns the configured occupancy limit.
func (r *Relay) MaxQueue() int { return r.maxQueue }

// Occupancy returns the number of admitted events not yet replayed.
func (r *Relay) Occupancy() int { return int(r.occupancy.Load()) }

// Stats returns counters for health reporting.
func (r *Relay) Stats() (admitted, dropped, failed uint64) {
	return r.admitted.Load(), r.dropped.Load(), r.failed.Load()
}

// OnCreditNotification answers a client that reports queued local events
// with the number it may send now. The grant is a snapshot; it does not
// reserve room for a later batch.
func (r *Relay) OnCreditNotification(sink CreditSink, queued int) (int, error) {
	if queued <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrBadCredit, queued)
	}
	grant := max(0, r.maxQueue-r.Occupancy())
	if err := sink.SendEvent(protocol.KindReadInputEvents, grant); err != nil {
		return grant, fmt.Errorf("relay: send credit: %w", err)
	}
	return grant, nil
}

// OnEventBatch admits events in order. The first event that finds the queue
// full ends admission; it and everything after it are dropped. Returns the
// number admitted. A nil surface ignores the batch.
func (r *Relay) OnEventBatch(surface desktop.ControlSurface, events []InputEvent) int {
	if surface == nil {
		return 0
	}
	for i, ev := range events {
		if !r.admit(surface, ev) {
			dropped := len(events) - i
			r.dropped.Add(uint64(dropped))
			r.log.Warn(fmt.Sprintf("Dropped %d received input events", dropped), "dropped", dropped)
			return i
		}
	}
	return len(events)
}

func (r *Relay) admit(surface desktop.ControlSurface, ev InputEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || int(r.occupancy.Load()) >= r.maxQueue {
		return false
	}
	if r.lane == nil {
		r.lane = workerpool.NewSerial("input-relay")
	}

	seq := r.lastSeq + 1
	if seq < 0 {
		seq = 0
	}

	r.occupancy.Add(1)
	ok := r.lane.Dispatch(seq, func() {
		defer r.occupancy.Add(-1)
		if err := r.player(surface, ev); err != nil {
			r.failed.Add(1)
			r.log.Warn("input replay failed", logging.KeySeq, seq, "type", string(ev.Type), logging.KeyError, err)
		}
	})
	if !ok {
		r.occupancy.Add(-1)
		return false
	}
	r.lastSeq = seq
	r.admitted.Add(1)
	return true
}

// LastSeq returns the sequence id of the last admitted event, or -1.
func (r *Relay) LastSeq() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Close refuses further events and waits for admitted ones to replay.
func (r *Relay) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	lane := r.lane
	r.mu.Unlock()

	if lane != nil {
		lane.Drain(ctx)
	}
}
