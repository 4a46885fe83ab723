package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/breeze-rmm/screenhost/internal/envelope"
	"github.com/breeze-rmm/screenhost/internal/logging"
	"github.com/breeze-rmm/screenhost/internal/protocol"
	"github.com/breeze-rmm/screenhost/internal/relay"
)

// ErrSendQueueFull is returned by SendEvent when the client's queue is full
// and the event was dropped.
var ErrSendQueueFull = errors.New("client send queue full")

// ErrClientClosed is returned by SendEvent after the client disconnected.
var ErrClientClosed = errors.New("client closed")

// Client is one connected viewer. Outbound events are queued as envelopes
// and compressed lazily by the writer goroutine; each queued envelope holds
// one reference that the writer (or Close) releases.
type Client struct {
	id        string
	remote    string
	transport Transport
	server    *Server
	log       *slog.Logger

	sendMu sync.Mutex
	send   chan *envelope.Envelope
	closed bool

	device atomic.Pointer[device]

	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newClient(s *Server, t Transport, remote string) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		remote:    remote,
		transport: t,
		server:    s,
		log:       logging.WithClient(log, id).With("transport", t.Kind()),
		send:      make(chan *envelope.Envelope, s.cfg.SendQueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the client's unique id.
func (c *Client) ID() string { return c.id }

// watching returns the device the client is bound to, or nil.
func (c *Client) watching() *device { return c.device.Load() }

// SendEvent queues one event for this client only.
func (c *Client) SendEvent(kind protocol.Kind, args ...any) error {
	env := c.server.envelopes.Acquire(kind, args...)
	return c.enqueue(env)
}

// enqueue hands one holder of env to the writer. It never blocks: a full
// queue drops the event. The holder is released on every path that does
// not reach the writer.
func (c *Client) enqueue(env *envelope.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		env.Release()
		return ErrClientClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.dropped.Add(1)
		c.log.Debug("send queue full, dropping event", "kind", string(env.Kind()))
		env.Release()
		return ErrSendQueueFull
	}
}

func (c *Client) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			data, err := env.Compressed()
			if err != nil {
				c.log.Error("event compression failed", "kind", string(env.Kind()), logging.KeyError, err)
				env.Release()
				continue
			}
			err = c.transport.WriteMessage(data)
			env.Release()
			if err != nil {
				c.log.Debug("write failed", logging.KeyError, err)
				return
			}
			c.sent.Add(1)
		}
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.log.Debug("read loop ended", logging.KeyError, err)
			return
		}
		msg, err := c.server.codec.Decode(data)
		if err != nil {
			c.log.Warn("undecodable message", logging.KeyError, err)
			c.sendError(protocol.CodeBadRequest, err.Error())
			continue
		}
		if !msg.Kind.FromClient() {
			c.sendError(protocol.CodeBadRequest, fmt.Sprintf("unexpected event %s", msg.Kind))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindSelectScreen:
		var index int
		if err := msg.Arg(0, &index); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		c.server.selectScreen(c, index)

	case protocol.KindInputCredit:
		var queued int
		if err := msg.Arg(0, &queued); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if _, err := c.server.relay.OnCreditNotification(c, queued); err != nil {
			c.log.Warn("credit notification rejected", logging.KeyError, err)
			if errors.Is(err, relay.ErrBadCredit) {
				c.sendError(protocol.CodeBadRequest, err.Error())
			}
		}

	case protocol.KindInputEvents:
		var events []relay.InputEvent
		if err := msg.Arg(0, &events); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		dev := c.watching()
		if dev == nil {
			c.sendError(protocol.CodeNoScreen, "select a screen before sending input")
			return
		}
		c.server.relay.OnEventBatch(dev.backend.Surface(), events)

	case protocol.KindRequestFrame:
		dev := c.watching()
		if dev == nil {
			c.sendError(protocol.CodeNoScreen, "select a screen before requesting a frame")
			return
		}
		c.server.sendFullFrame(c, dev)
	}
}

func (c *Client) sendError(code, message string) {
	c.SendEvent(protocol.KindError, protocol.ErrorInfo{Code: code, Message: message})
}

// Close disconnects the client and releases every queued envelope.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.transport.Close()

		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()
		for drained := false; !drained; {
			select {
			case env := <-c.send:
				env.Release()
			default:
				drained = true
			}
		}

		c.server.detach(c)
		c.log.Info("client disconnected", "remote", c.remote, "sent", c.sent.Load(), "dropped", c.dropped.Load())
	})
}
