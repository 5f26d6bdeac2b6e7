// Package registry tracks live signaling connections, their room assignment,
// and fans messages out to room members.
package registry

import (
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Peer is the registry's view of one live connection.
type Peer interface {
	// Send queues msg for delivery. It must not block.
	Send(msg []byte) error
	// Open reports whether the transport is still writable.
	Open() bool
}

// Registry owns the set of live connections and the room index.
//
// A single RWMutex guards both the per-peer room field and the room -> members
// index so they never disagree; Broadcast snapshots recipients under the read
// lock and sends outside of it.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	peers map[Peer]string
	rooms map[string]map[Peer]struct{}
}

func New(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:     logger,
		metrics: m,
		peers:   make(map[Peer]string),
		rooms:   make(map[string]map[Peer]struct{}),
	}
}

// Register adds p with no room assignment. Registering a known peer is a no-op.
func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; ok {
		return
	}
	r.peers[p] = ""
}

// AssignRoom sets or overwrites the room of a registered peer and reports
// whether p is a member of roomID afterwards. Unknown peers and empty room ids
// are ignored.
func (r *Registry) AssignRoom(p Peer, roomID string) bool {
	if roomID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.peers[p]
	if !ok {
		return false
	}
	if prev == roomID {
		return true
	}
	r.removeFromRoomLocked(p, prev)

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[Peer]struct{})
		r.rooms[roomID] = members
	}
	members[p] = struct{}{}
	r.peers[p] = roomID
	return true
}

// Room returns the current room of p. ok is false when p is unjoined or not
// registered.
func (r *Registry) Room(p Peer) (roomID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID = r.peers[p]
	return roomID, roomID != ""
}

// Unregister removes p and returns the room it was in ("" when unjoined).
// registered is false when p was not registered. It is safe to call more
// than once.
func (r *Registry) Unregister(p Peer) (roomID string, registered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, registered = r.peers[p]
	if !registered {
		return "", false
	}
	r.removeFromRoomLocked(p, roomID)
	delete(r.peers, p)
	return roomID, true
}

func (r *Registry) removeFromRoomLocked(p Peer, roomID string) {
	if roomID == "" {
		return
	}
	members := r.rooms[roomID]
	delete(members, p)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Broadcast delivers msg to every open member of roomID other than exclude
// and returns the number of successful deliveries.
//
// Delivery is best-effort: a failed send is logged and counted, and the
// remaining recipients are still attempted. An empty roomID targets nothing.
func (r *Registry) Broadcast(roomID string, msg []byte, exclude Peer) int {
	if roomID == "" {
		return 0
	}

	r.mu.RLock()
	recipients := make([]Peer, 0, len(r.rooms[roomID]))
	for p := range r.rooms[roomID] {
		if p == exclude {
			continue
		}
		recipients = append(recipients, p)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, p := range recipients {
		if !p.Open() {
			continue
		}
		if err := p.Send(msg); err != nil {
			r.metrics.Inc(metrics.BroadcastSendFailed)
			r.log.Debug("broadcast send failed", "room", roomID, "err", err)
			continue
		}
		delivered++
	}
	r.metrics.Add(metrics.BroadcastDelivered, uint64(delivered))
	return delivered
}

// Stats returns the number of non-empty rooms and registered connections.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.peers)
}
