// Package realtime implements the per-node room hub that fans conversation
// events out to subscribed WebSocket connections.
//
// A connection may be subscribed to any number of rooms. Broadcast delivers
// to the subscribers present when the call starts; there is no replay buffer,
// so a connection that joins later never sees earlier events.
package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/metrics"
)

// Writer is the write side of a subscribed connection. ws.Connection
// satisfies it.
type Writer interface {
	WriteMessage(data []byte) error
}

type room struct {
	// deliver serializes broadcasts so every subscriber observes events in
	// the order Broadcast was called.
	deliver sync.Mutex
	members map[string]Writer
}

// Hub tracks room membership for the connections on this node.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	conns map[string]map[string]struct{} // connID -> joined rooms
	log   *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		conns: make(map[string]map[string]struct{}),
		log:   log,
	}
}

// Join subscribes a connection to a room. Joining a room twice is a no-op
// apart from refreshing the writer; the return value reports whether the
// connection was newly added.
func (h *Hub) Join(connID string, w Writer, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, added := h.joinLocked(connID, w, conversationID)
	return added
}

// JoinWith subscribes a connection like Join and writes ack to it before any
// broadcast to the room can reach it. The ack is written under the room's
// delivery mutex, which is taken before the membership lock is released, so
// a Broadcast that sees the new member waits for the ack.
func (h *Hub) JoinWith(connID string, w Writer, conversationID string, ack []byte) (bool, error) {
	h.mu.Lock()
	r, added := h.joinLocked(connID, w, conversationID)
	r.deliver.Lock()
	h.mu.Unlock()
	defer r.deliver.Unlock()

	return added, w.WriteMessage(ack)
}

func (h *Hub) joinLocked(connID string, w Writer, conversationID string) (*room, bool) {
	r, ok := h.rooms[conversationID]
	if !ok {
		r = &room{members: make(map[string]Writer)}
		h.rooms[conversationID] = r
		metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
	_, existed := r.members[connID]
	r.members[connID] = w

	joined, ok := h.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[connID] = joined
	}
	joined[conversationID] = struct{}{}

	return r, !existed
}

// Leave unsubscribes a connection from one room.
func (h *Hub) Leave(connID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, conversationID)
}

// Disconnect removes a connection from every room it joined and returns the
// rooms it left.
func (h *Hub) Disconnect(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := h.conns[connID]
	left := make([]string, 0, len(joined))
	for conv := range joined {
		left = append(left, conv)
		h.leaveLocked(connID, conv)
	}
	delete(h.conns, connID)
	return left
}

func (h *Hub) leaveLocked(connID, conversationID string) {
	if r, ok := h.rooms[conversationID]; ok {
		delete(r.members, connID)
		if len(r.members) == 0 {
			delete(h.rooms, conversationID)
			metrics.ActiveRooms.Set(float64(len(h.rooms)))
		}
	}
	if joined, ok := h.conns[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(h.conns, connID)
		}
	}
}

// Broadcast delivers payload to every connection subscribed to the room at
// the time of the call. An empty or unknown room is not an error. Failed
// writes are counted and skipped; dead connections are evicted by the
// transport's read loop and heartbeat.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, payload []byte) error {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	targets := make([]Writer, 0, len(r.members))
	ids := make([]string, 0, len(r.members))
	for id, w := range r.members {
		ids = append(ids, id)
		targets = append(targets, w)
	}
	h.mu.RUnlock()

	// Writes happen outside the membership lock. The room's delivery mutex
	// keeps every subscriber seeing concurrent broadcasts in one order.
	r.deliver.Lock()
	defer r.deliver.Unlock()

	for i, w := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteMessage(payload); err != nil {
			metrics.BroadcastDeliveries.WithLabelValues("error").Inc()
			h.log.WithError(err).WithFields(logrus.Fields{
				"conversation_id": conversationID,
				"conn_id":         ids[i],
			}).Debug("realtime: delivery failed")
			continue
		}
		metrics.BroadcastDeliveries.WithLabelValues("ok").Inc()
	}
	return nil
}

// Members returns the number of connections subscribed to a room.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[conversationID]; ok {
		return len(r.members)
	}
	return 0
}

// Rooms returns the rooms a connection has joined.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns[connID]))
	for conv := range h.conns[connID] {
		out = append(out, conv)
	}
	return out
}
