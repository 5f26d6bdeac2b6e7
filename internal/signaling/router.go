package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
)

// Router dispatches inbound frames for a connection. It holds no per-connection
// state; room membership lives in the registry.
type Router struct {
	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRouter(reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{reg: reg, metrics: m, log: logger}
}

// Handle processes one text frame from c. Malformed frames and unknown types
// are dropped without closing the connection.
func (rt *Router) Handle(c *Conn, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		rt.metrics.Inc(metrics.MessageMalformed)
		rt.log.Debug("dropping malformed signaling message", "conn_id", c.ID(), "err", err)
		return
	}

	switch env.Type {
	case messageTypeJoinRoom:
		roomID, ok := env.roomID()
		if !ok {
			rt.metrics.Inc(metrics.MessageMalformed)
			rt.log.Debug("dropping join-room without roomId", "conn_id", c.ID())
			return
		}
		rt.join(c, roomID)
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate:
		rt.relay(c, env.Type, raw)
	default:
		rt.metrics.Inc(metrics.MessageUnknownType)
		rt.log.Debug("ignoring unknown signaling message", "conn_id", c.ID(), "type", string(env.Type))
	}
}

func (rt *Router) join(c *Conn, roomID string) {
	c.membershipMu.Lock()
	defer c.membershipMu.Unlock()

	if !rt.reg.AssignRoom(c, roomID) {
		rt.log.Debug("dropping join-room from closed connection", "conn_id", c.ID(), "room", roomID)
		return
	}
	rt.metrics.Inc(metrics.RoomJoined)
	rt.log.Info("joined room", "conn_id", c.ID(), "room", roomID, "name", c.Identity().Name)

	rt.reg.Broadcast(roomID, encodeUserJoined(c.RemoteAddr(), c.Identity().Name), c)
}

func (rt *Router) relay(c *Conn, typ messageType, raw []byte) {
	roomID, ok := rt.reg.Room(c)
	if !ok {
		rt.metrics.Inc(metrics.MessageUnjoined)
		rt.log.Debug("dropping signaling message before join-room", "conn_id", c.ID(), "type", string(typ))
		return
	}
	rt.metrics.Inc(metrics.MessageRelayed)
	n := rt.reg.Broadcast(roomID, raw, c)
	rt.log.Debug("relayed signaling message", "conn_id", c.ID(), "room", roomID, "type", string(typ), "recipients", n)
}
