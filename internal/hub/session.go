package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 8192
)

// Session is one live connection. A participant may hold several sessions
// (multi-device); each is tracked independently.
type Session struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	participantID string
	role          string
}

// SetParticipant records who is behind the connection once the client
// identifies itself.
func (s *Session) SetParticipant(id, role string) {
	s.mu.Lock()
	s.participantID = id
	s.role = role
	s.mu.Unlock()
}

// Participant returns the identity the client announced, if any.
func (s *Session) Participant() (id, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID, s.role
}

// Join adds this session to a room.
func (s *Session) Join(room string) { s.hub.Join(s, room) }

// Leave removes this session from a room.
func (s *Session) Leave(room string) { s.hub.Leave(s, room) }

// Send delivers one event to this session only.
func (s *Session) Send(event string, payload any) error {
	msg, err := marshalEnvelope(event, payload)
	if err != nil {
		return err
	}
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if _, ok := s.hub.sessions[s.ID]; !ok {
		return nil // already disconnected, nothing to deliver
	}
	s.enqueue(msg)
	return nil
}

// enqueue pushes a marshaled frame onto the send buffer without blocking.
// Caller holds at least a read lock on hub.mu, which guarantees the channel
// is not closed concurrently.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer s.hub.Disconnect(s)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Warn("websocket read error", "session_id", s.ID, "error", err)
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.hub.log.Warn("malformed session message", "session_id", s.ID, "error", err)
			continue
		}
		if s.hub.handler != nil {
			s.hub.handler(s, msg.Event, msg.Data)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
