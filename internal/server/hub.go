package server

import "sync"

// hub tracks connected clients and caps their number.
type hub struct {
	max int

	mu      sync.RWMutex
	clients map[string]*Client
}

func newHub(max int) *hub {
	return &hub{max: max, clients: make(map[string]*Client)}
}

// Full reports whether another client would exceed the cap.
func (h *hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) >= h.max
}

func (h *hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.max {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// Count returns the number of connected clients.
func (h *hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// watchers returns the clients bound to d.
func (h *hub) watchers(d *device) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, c := range h.clients {
		if c.watching() == d {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// closeAll disconnects every client. Client.Close removes itself from the
// hub, so the lock is not held while closing.
func (h *hub) closeAll() {
	for _, c := range h.snapshot() {
		c.Close()
	}
}
