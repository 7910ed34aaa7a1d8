package delivery

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one connected client. Outbound frames go through a buffered queue
// drained by writeLoop so a stalled socket never blocks senders.
type Session struct {
	id         uuid.UUID
	operatorID uuid.UUID
	hub        *Hub
	conn       *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, operatorID uuid.UUID) *Session {
	return &Session{
		id:         uuid.New(),
		operatorID: operatorID,
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

func (s *Session) enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) enqueueFrame(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	return s.enqueue(data)
}

// close unregisters the session and tears down the socket; safe to call more than once
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.unregister(s)
		_ = s.conn.Close()
		s.hub.logger.Info("session disconnected", "session_id", s.id, "operator_id", s.operatorID)
	})
}

func (s *Session) readLoop() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("session read failed", "session_id", s.id, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type == FramePing {
			s.enqueueFrame(Frame{Type: FramePong})
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.hub.logger.Debug("session write failed", "session_id", s.id, "error", err)
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
