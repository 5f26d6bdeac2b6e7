package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

const wsWriteWait = 10 * time.Second

var (
	ErrSendQueueFull = errors.New("signaling: send queue full")
	ErrConnClosed    = errors.New("signaling: connection closed")
)

// Conn is one authenticated signaling WebSocket.
//
// All writes go through a single write pump fed by a bounded queue, so Send
// never blocks the caller. Close is idempotent and runs the leave sequence
// (user-left broadcast, then unregister) exactly once.
type Conn struct {
	id         string
	identity   auth.Identity
	remoteAddr string

	srv *Server
	ws  *websocket.Conn
	log *slog.Logger

	send chan []byte
	done chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once

	// membershipMu orders join-room handling against the leave sequence so a
	// user-joined is never broadcast after the matching user-left.
	membershipMu sync.Mutex
}

func newConn(srv *Server, ws *websocket.Conn, identity auth.Identity, remoteAddr string, queueLen int) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:         id,
		identity:   identity,
		remoteAddr: remoteAddr,
		srv:        srv,
		ws:         ws,
		log:        srv.log.With("conn_id", id, "remote_addr", remoteAddr),
		send:       make(chan []byte, queueLen),
		done:       make(chan struct{}),
	}
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Identity() auth.Identity { return c.identity }

// RemoteAddr is the transport address of the client. It doubles as the userId
// in membership notifications.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send queues msg for the write pump.
func (c *Conn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Open() bool {
	return !c.closed.Load()
}

// Close tears the connection down with a normal closure.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.membershipMu.Lock()
		if roomID, _ := c.srv.reg.Unregister(c); roomID != "" {
			c.srv.reg.Broadcast(roomID, encodeUserLeft(c.remoteAddr), c)
			c.log.Info("left room", "room", roomID, "name", c.identity.Name)
		}
		c.membershipMu.Unlock()
		c.srv.untrack(c)
		c.srv.metrics.Inc(metrics.ConnClosed)

		if c.ws != nil {
			writeClose(c.ws, code, reason)
			_ = c.ws.Close()
		}
		c.log.Debug("signaling connection closed", "code", code, "reason", reason)
	})
}

// readPump reads frames in arrival order and hands text frames to the router.
// It owns all reads on c.ws and closes c when it returns.
func (c *Conn) readPump(router *Router, cfg Config) {
	defer c.Close()

	var limiter *rate.Limiter
	if cfg.MaxMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSecond), cfg.MaxMessagesPerSecond)
	}

	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.srv.metrics.Inc(metrics.MessageTooLarge)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.log.Debug("signaling connection idle", "err", err)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("signaling read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// The limit applies after the read so the close frame is not lost behind
		// unread bytes.
		if limiter != nil && !limiter.Allow() {
			c.srv.metrics.Inc(metrics.MessageRateLimited)
			c.log.Warn("signaling rate limit exceeded")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.metrics.Inc(metrics.MessageMalformed)
			continue
		}

		router.Handle(c, data)
	}
}

// writePump is the only writer of data frames on c.ws.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("signaling write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
