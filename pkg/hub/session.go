package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound control packets. Uploads arrive base64
	// inside JSON, so this needs headroom.
	maxMessageSize = 64 * 1024 * 1024

	// sendBuffer is the per-session outbound queue depth. A session that
	// falls this far behind is evicted rather than allowed to stall capture.
	sendBuffer = 256
)

// Session is one connected viewer. It holds the transport handle and nothing
// else; all media state is process-global (broadcast model).
type Session struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	sendMu sync.Mutex
	closed bool

	authed bool
}

// newSession wraps a websocket connection and registers it with the hub.
func newSession(h *Hub, conn *websocket.Conn) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	h.register <- s
	return s
}

// Authenticated reports whether the session passed the OTP handshake.
func (s *Session) Authenticated() bool { return s.authed }

// SetAuthenticated marks the handshake outcome. Called only from the
// session's read pump via the router.
func (s *Session) SetAuthenticated(ok bool) { s.authed = ok }

// Send queues a message for this session without blocking. Returns false
// when the session is closed or its buffer is full (the message is dropped).
func (s *Session) Send(msg Message) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once. Send and closeSend share
// a lock so a concurrent Send can never hit a closed channel.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// run starts the read and write pumps; it blocks until the connection
// closes.
func (s *Session) run() {
	go s.writePump()
	s.readPump()
}

// readPump feeds inbound control packets to the hub's packet handler and
// detects disconnection. Binary frames from viewers are not part of the
// protocol and are discarded.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.hub.handlePacket(s, data)
	}
}

// writePump is the only goroutine writing to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel: send a close frame.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if msg.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := s.conn.WriteMessage(wsType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
