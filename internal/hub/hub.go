// Package hub is the live session layer: room-based broadcast over the
// websocket connections currently attached to this process. All state is
// derived from live connections; a restart clears every room and clients
// must reconnect and rejoin.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smangukia/CommuneDrop-sub001/internal/observability"
)

// Room naming conventions.
const (
	TripRoomPrefix   = "trip:"
	DriverRoomPrefix = "driver:"
)

func TripRoom(tripID string) string     { return TripRoomPrefix + tripID }
func DriverRoom(driverID string) string { return DriverRoomPrefix + driverID }

// InboundHandler processes one message received from a session.
type InboundHandler func(s *Session, event string, data json.RawMessage)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks sessions and room membership.
type Hub struct {
	log     *slog.Logger
	handler InboundHandler

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	joined   map[string]map[string]bool // session id -> room ids
}

func New(log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]bool),
	}
}

// SetHandler wires inbound message dispatch. Must be called before ServeWS.
func (h *Hub) SetHandler(handler InboundHandler) { h.handler = handler }

// ServeWS upgrades an HTTP request and attaches the connection as a session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	h.Register(conn)
}

// Register creates an empty session for a connection and starts its pumps.
// A nil conn registers a detached session, used by in-process tests.
func (h *Hub) Register(conn *websocket.Conn) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.joined[s.ID] = make(map[string]bool)
	h.mu.Unlock()

	observability.SessionsActive.Inc()
	h.log.Debug("session connected", "session_id", s.ID)

	if conn != nil {
		go s.writePump()
		go s.readPump()
	}
	return s
}

// Disconnect removes the session from every room and forgets it.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range h.joined[s.ID] {
		h.removeFromRoom(s, room)
	}
	delete(h.joined, s.ID)
	delete(h.sessions, s.ID)
	close(s.send)
	h.mu.Unlock()

	observability.SessionsActive.Dec()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	h.log.Debug("session disconnected", "session_id", s.ID)
}

// Join adds a session to a room, creating the room on first join.
func (h *Hub) Join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Session)
	}
	h.rooms[room][s.ID] = s
	h.joined[s.ID][room] = true
}

// Leave removes a session from a room; empty rooms are dropped.
func (h *Hub) Leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(s, room)
	delete(h.joined[s.ID], room)
}

// caller holds h.mu
func (h *Hub) removeFromRoom(s *Session, room string) {
	members := h.rooms[room]
	delete(members, s.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast delivers an event to every session currently in the room and
// returns the delivered count.
func (h *Hub) Broadcast(room, event string, payload any) int {
	msg, err := marshalEnvelope(event, payload)
	if err != nil {
		h.log.Error("broadcast marshal failed", "event", event, "error", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.rooms[room] {
		if s.enqueue(msg) {
			n++
		} else {
			h.log.Warn("session send buffer full, dropping event",
				"session_id", s.ID, "event", event)
		}
	}
	observability.BroadcastsDelivered.Add(float64(n))
	return n
}

// BroadcastAll delivers an event to every connected session.
func (h *Hub) BroadcastAll(event string, payload any) int {
	msg, err := marshalEnvelope(event, payload)
	if err != nil {
		h.log.Error("broadcast marshal failed", "event", event, "error", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if s.enqueue(msg) {
			n++
		}
	}
	observability.BroadcastsDelivered.Add(float64(n))
	return n
}

// BroadcastRole delivers an event to every session whose participant
// identified with the given role. Sessions that never identified get nothing.
func (h *Hub) BroadcastRole(role, event string, payload any) int {
	msg, err := marshalEnvelope(event, payload)
	if err != nil {
		h.log.Error("broadcast marshal failed", "event", event, "error", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if _, r := s.Participant(); r != role {
			continue
		}
		if s.enqueue(msg) {
			n++
		}
	}
	observability.BroadcastsDelivered.Add(float64(n))
	return n
}

// BroadcastWithFallback delivers to the room, or to every session when the
// room has no members. Used when routing to a driver room nobody joined yet.
func (h *Hub) BroadcastWithFallback(room, event string, payload any) int {
	h.mu.RLock()
	empty := len(h.rooms[room]) == 0
	h.mu.RUnlock()
	if empty {
		return h.BroadcastAll(event, payload)
	}
	return h.Broadcast(room, event, payload)
}

// RoomSize reports current membership, mostly for tests and debugging.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// SessionCount reports currently attached sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(envelope{Event: event, Data: data})
}
