package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
)

// Config wires together the runtime dependencies for the signaling relay.
type Config struct {
	// Registry holds room membership. If nil, the server creates its own.
	Registry *registry.Registry
	Verifier auth.Verifier
	Origins  origin.Policy
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond is the per-connection inbound limit; 0 disables it.
	MaxMessagesPerSecond int
	SendQueueLen         int
}

// WithDefaults fills zero-valued limits with the config package defaults.
func (c Config) WithDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if c.MaxMessagesPerSecond < 0 {
		c.MaxMessagesPerSecond = 0
	}
	if c.SendQueueLen <= 0 {
		c.SendQueueLen = config.DefaultSignalingSendQueueLen
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server accepts signaling WebSockets.
//
// Endpoints:
//   - GET /ws?token=<jwt> : signaling WebSocket
//   - GET /               : same, for clients that dial the bare host
type Server struct {
	cfg      Config
	reg      *registry.Registry
	router   *Router
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	cfg = cfg.WithDefaults()

	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(cfg.Logger, cfg.Metrics)
	}

	s := &Server{
		cfg:     cfg,
		reg:     reg,
		router:  NewRouter(reg, cfg.Metrics, cfg.Logger),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		conns:   make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
	mux.Handle("GET /{$}", s)
}

// Registry exposes the room registry, e.g. for stats endpoints.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

func (s *Server) checkOrigin(r *http.Request) bool {
	normalized, ok := s.cfg.Origins.Check(r)
	if !ok {
		s.metrics.Inc(metrics.OriginRejected)
		s.log.Warn("rejected signaling origin", "origin", r.Header.Get("Origin"), "normalized", normalized, "remote_addr", r.RemoteAddr)
	}
	return ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	identity, err := s.authenticate(r)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailed)
		s.log.Info("rejected signaling connection", "remote_addr", r.RemoteAddr, "err", err)
		writeClose(ws, websocket.ClosePolicyViolation, authCloseReason(err))
		_ = ws.Close()
		return
	}

	c := newConn(s, ws, identity, r.RemoteAddr, s.cfg.SendQueueLen)
	if !s.track(c) {
		writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}
	s.reg.Register(c)
	s.metrics.Inc(metrics.ConnAccepted)
	c.log.Info("signaling connection opened", "name", identity.Name)

	go c.writePump(s.cfg.PingInterval)
	c.readPump(s.router, s.cfg)
}

func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	if s.cfg.Verifier == nil {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	cred, err := auth.CredentialFromQuery(r.URL.Query())
	if err != nil {
		return auth.Identity{}, err
	}
	return s.cfg.Verifier.Verify(cred)
}

// Close disconnects every live connection. Connections upgraded afterwards
// are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// authCloseReason maps an authentication error to the close frame reason.
func authCloseReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return "missing credentials"
	case auth.IsUnauthorized(err):
		return "invalid credentials"
	default:
		return "authentication failed"
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
