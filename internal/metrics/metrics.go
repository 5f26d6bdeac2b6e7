package metrics

import "sync"

// Event names counted by the relay.
const (
	ConnAccepted        = "conn_accepted"
	ConnClosed          = "conn_closed"
	AuthFailed          = "auth_failed"
	OriginRejected      = "origin_rejected"
	RoomJoined          = "room_joined"
	MessageRelayed      = "message_relayed"
	MessageMalformed    = "message_malformed"
	MessageUnknownType  = "message_unknown_type"
	MessageUnjoined     = "message_unjoined"
	MessageRateLimited  = "message_rate_limited"
	MessageTooLarge     = "message_too_large"
	BroadcastDelivered  = "broadcast_delivered"
	BroadcastSendFailed = "broadcast_send_failed"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics is
// valid and discards all updates.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil || delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
