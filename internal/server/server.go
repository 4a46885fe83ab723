// Package server accepts viewers over WebSocket or WebRTC, streams changed
// screen tiles to them and relays their input to the watched screen.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/screenhost/internal/config"
	"github.com/breeze-rmm/screenhost/internal/envelope"
	"github.com/breeze-rmm/screenhost/internal/health"
	"github.com/breeze-rmm/screenhost/internal/logging"
	"github.com/breeze-rmm/screenhost/internal/protocol"
	"github.com/breeze-rmm/screenhost/internal/relay"
	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
	"github.com/breeze-rmm/screenhost/internal/secmem"
	"github.com/breeze-rmm/screenhost/internal/workerpool"
)

var log = logging.L("server")

const (
	codecPoolSize   = 256
	codecBufferSize = 64 << 10

	// listenerHeadroom leaves room for health and signaling requests when
	// every client slot is taken.
	listenerHeadroom = 8

	connAttemptsPerWindow = 30
	connAttemptWindow     = time.Minute

	maintenanceInterval = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithDeviceSource replaces the platform screen enumeration, mainly for tests.
func WithDeviceSource(src DeviceSource) Option {
	return func(s *Server) { s.source = src }
}

// WithPlayer replaces how relayed input is applied to a control surface.
func WithPlayer(p relay.Player) Option {
	return func(s *Server) { s.player = p }
}

// Server is the screen sharing host.
type Server struct {
	cfg    *config.Config
	token  *secmem.Token
	source DeviceSource
	player relay.Player

	codec     *protocol.Codec
	envelopes *envelope.Pool
	relay     *relay.Relay
	encoders  *workerpool.Pool
	hub       *hub
	health    *health.Monitor
	devices   *registry
	limiter   *connLimiter
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	clients      sync.WaitGroup
	broadcasters sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// New builds a Server from cfg. Nothing is captured until a client selects
// a screen.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	codec, err := protocol.NewCodec(codecPoolSize, codecBufferSize)
	if err != nil {
		return nil, fmt.Errorf("create codec: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		source:   PlatformDevices{},
		codec:    codec,
		hub:      newHub(cfg.MaxClients),
		health:   health.NewMonitor(),
		limiter:  newConnLimiter(connAttemptsPerWindow, connAttemptWindow),
		encoders: workerpool.New("encode", cfg.EncodeWorkers, cfg.EncodeQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			// Viewers are authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.AuthToken != "" {
		s.token = secmem.NewToken(cfg.AuthToken)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.envelopes = envelope.NewPool(codec)
	var relayOpts []relay.Option
	if s.player != nil {
		relayOpts = append(relayOpts, relay.WithPlayer(s.player))
	}
	s.relay = relay.New(cfg.MaxInputQueue, logging.L("relay"), relayOpts...)
	s.devices = newRegistry(s.source, cfg.CaptureStrategies, s.openDevice)
	s.health.Update("relay", health.Healthy, "")
	return s, nil
}

func (s *Server) encoder() desktop.Encoder {
	return desktop.Encoder{
		Format:  s.cfg.ImageFormat,
		Quality: s.cfg.JPEGQuality,
		Scale:   s.cfg.ScaleFactor,
	}
}

// openDevice builds the capture bundle for a freshly bound backend and
// starts its broadcaster.
func (s *Server) openDevice(info desktop.ScreenDevice, b *desktop.Backend) *device {
	d := &device{
		info:     info,
		backend:  b,
		snapshot: desktop.NewSnapshotCache(b),
		images:   desktop.NewImageCache(),
	}
	d.broadcaster = newBroadcaster(s, d)
	s.health.Update(d.component(), health.Healthy, "strategy "+b.Strategy())

	s.broadcasters.Add(1)
	go func() {
		defer s.broadcasters.Done()
		d.broadcaster.run(s.ctx)
	}()
	log.Info("screen opened",
		logging.KeyDevice, info.ID,
		logging.KeyStrategy, b.Strategy(),
		"bounds", info.EffectiveBounds().String(),
	)
	return d
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /ws", s.authenticated(s.handleWS))
	mux.Handle("POST /rtc", s.authenticated(s.handleRTC))
	mux.Handle("GET /screens", s.authenticated(s.handleScreens))
	return mux
}

func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != nil && !s.token.Equal(requestToken(r)) {
			log.Warn("rejected unauthenticated request", "remote", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

// requestToken reads a bearer token from the Authorization header or, for
// browsers that cannot set headers on a WebSocket, the token query parameter.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	if s.hub.Full() {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, logging.KeyError, err)
		return
	}
	s.attach(newWSTransport(conn, protocol.MaxMessageSize), r.RemoteAddr)
}

// screenStatus is one row of GET /screens.
type screenStatus struct {
	protocol.ScreenInfo
	Open  bool   `json:"open"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleScreens(w http.ResponseWriter, r *http.Request) {
	devices, err := s.source.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]screenStatus, 0, len(devices))
	for _, d := range devices {
		st := screenStatus{ScreenInfo: screenInfo(d, "")}
		strategy, err := s.devices.status(d.Index)
		switch {
		case err != nil:
			st.Error = err.Error()
		case strategy != "":
			st.Open = true
			st.Strategy = strategy
		}
		out = append(out, st)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.health.Summary()
	admitted, dropped, failed := s.relay.Stats()
	summary["clients"] = s.hub.Count()
	summary["input"] = map[string]any{
		"occupancy": s.relay.Occupancy(),
		"maxQueue":  s.relay.MaxQueue(),
		"admitted":  admitted,
		"dropped":   dropped,
		"failed":    failed,
	}
	if host, err := health.HostSample(r.Context()); err == nil {
		summary["host"] = host
	} else {
		log.Debug("host sample failed", logging.KeyError, err)
	}

	w.Header().Set("Content-Type", "application/json")
	if s.health.Overall() == health.Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(summary)
}

// attach starts a client session on t.
func (s *Server) attach(t Transport, remote string) {
	c := newClient(s, t, remote)
	if s.ctx.Err() != nil || !s.hub.add(c) {
		log.Warn("refusing client", "remote", remote, "transport", t.Kind())
		t.Close()
		return
	}
	c.log.Info("client connected", "remote", remote)

	s.clients.Add(2)
	go func() {
		defer s.clients.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.clients.Done()
		c.readLoop()
	}()
}

func (s *Server) detach(c *Client) {
	s.hub.remove(c)
	c.device.Store(nil)
}

func screenInfo(d desktop.ScreenDevice, strategy string) protocol.ScreenInfo {
	b := d.EffectiveBounds()
	return protocol.ScreenInfo{
		Index:    d.Index,
		ID:       d.ID,
		X:        b.Min.X,
		Y:        b.Min.Y,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Strategy: strategy,
	}
}

// selectScreen binds c to screen index. screen_info is queued before the
// binding so it precedes the first segment.
func (s *Server) selectScreen(c *Client, index int) {
	dev, err := s.devices.get(index)
	if err != nil {
		code := protocol.CodeNoScreen
		if isEnvironmentError(err) {
			code = protocol.CodeUnsupported
			s.health.Update(fmt.Sprintf("capture:%d", index), health.Unhealthy, err.Error())
		}
		c.log.Warn("screen selection failed", "index", index, logging.KeyError, err)
		c.sendError(code, err.Error())
		return
	}

	if err := c.SendEvent(protocol.KindScreenInfo, screenInfo(dev.info, dev.backend.Strategy())); err != nil {
		return
	}
	if prev := c.device.Swap(dev); prev != dev {
		c.log.Info("client watching screen", logging.KeyDevice, dev.info.ID)
	}
	dev.broadcaster.requestRefresh()
}

// sendFullFrame captures the whole screen and sends it to c alone. It runs
// on the encode pool so the client's read loop keeps servicing input.
func (s *Server) sendFullFrame(c *Client, dev *device) {
	enc := s.encoder()
	s.encoders.Go(func() {
		pix, bounds, err := dev.snapshot.CaptureFull()
		if err != nil {
			c.log.Warn("full frame capture failed", logging.KeyError, err)
			c.sendError(protocol.CodeCaptureFailed, err.Error())
			return
		}
		w, h := bounds.Dx(), bounds.Dy()
		img := dev.images.Get(pix, w*h, w, h, false)
		env, err := s.frameEnvelope(img, w, h, enc)
		dev.images.Retire(pix)
		if err != nil {
			c.log.Warn("full frame not sent", logging.KeyError, err)
			c.sendError(protocol.CodeCaptureFailed, err.Error())
			return
		}
		c.enqueue(env)
	})
}

// maxFrameFallbacks bounds how often an oversized frame is re-encoded.
const maxFrameFallbacks = 3

// frameEnvelope encodes img and compresses it before queueing, so a frame
// over the message size limit is reported to the requester instead of
// failing in the writer. Oversized frames are retried as JPEG at half the
// previous scale.
func (s *Server) frameEnvelope(img image.Image, w, h int, enc desktop.Encoder) (*envelope.Envelope, error) {
	for attempt := 0; ; attempt++ {
		data, err := enc.Encode(img)
		if err != nil {
			return nil, err
		}
		env := s.envelopes.Acquire(protocol.KindFrame, protocol.Frame{Width: w, Height: h, Format: enc.Format, Data: data})
		if _, err := env.Compressed(); err == nil {
			return env, nil
		} else if !errors.Is(err, protocol.ErrMessageTooLarge) || attempt == maxFrameFallbacks {
			env.Release()
			return nil, err
		}
		env.Release()

		scale := enc.Scale
		if scale <= 0 || scale > 1 {
			scale = 1
		}
		enc.Format = "jpeg"
		enc.Scale = scale / 2
		log.Debug("frame too large, re-encoding", "attempt", attempt+1, "scale", enc.Scale)
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
// The server is closed on return, including when the address cannot be bound.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err), s.Close(closeCtx))
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, s.cfg.MaxClients+listenerHeadroom)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("screen host listening", "addr", ln.Addr().String(), "webrtc", s.cfg.EnableWebRTC)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		return errors.Join(httpErr, s.Close(shutdownCtx))
	})
	g.Go(func() error {
		s.maintain(gctx)
		return nil
	})
	return g.Wait()
}

// maintain publishes relay health and sweeps the connection limiter.
func (s *Server) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.sweep()
			s.updateRelayHealth()
		}
	}
}

func (s *Server) updateRelayHealth() {
	occupancy, limit := s.relay.Occupancy(), s.relay.MaxQueue()
	switch {
	case occupancy >= limit:
		s.health.Update("relay", health.Degraded, fmt.Sprintf("input queue full (%d)", limit))
	default:
		s.health.Update("relay", health.Healthy, "")
	}
}

// Close stops every broadcaster and client, drains the input relay and the
// encode pool, then releases the capture backends. It is safe to call more
// than once.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.broadcasters.Wait()
		s.hub.closeAll()
		s.clients.Wait()
		s.relay.Close(ctx)
		s.encoders.Shutdown(ctx)
		s.closeErr = s.devices.closeAll()
		s.codec.Close()
		s.token.Zero()
		log.Info("screen host stopped")
	})
	return s.closeErr
}
