package server

import (
	"net"
	"sync"
	"time"
)

// connLimiter provides per-address connection rate limiting.
// Max attempts per window (sliding).
type connLimiter struct {
	maxAttempts int
	window      time.Duration
	mu          sync.Mutex
	attempts    map[string][]time.Time
}

func newConnLimiter(maxAttempts int, window time.Duration) *connLimiter {
	return &connLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow checks whether remote may connect. If allowed, it records the
// attempt. Ports are ignored so reconnects from one host share a budget.
func (r *connLimiter) Allow(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.attempts[host]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.maxAttempts {
		r.attempts[host] = pruned
		return false
	}

	r.attempts[host] = append(pruned, now)
	return true
}

// sweep drops hosts with no attempts inside the window.
func (r *connLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.window)
	for host, times := range r.attempts {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(r.attempts, host)
		}
	}
}
