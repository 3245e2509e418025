package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

// PacketHandler processes one inbound control packet from a session.
type PacketHandler func(s *Session, data []byte)

// Hub maintains the set of active viewer sessions and broadcasts messages to
// them. Broadcast is best-effort per session: a slow or dead viewer is
// evicted, never allowed to stall media production for the others.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[*Session]bool

	broadcast  chan Message
	register   chan *Session
	unregister chan *Session

	onPacket PacketHandler
	onEmpty  func()

	framesSent  atomic.Uint64
	eventsSent  atomic.Uint64
	slowEvicted atomic.Uint64
}

// New creates a hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		sessions:   make(map[*Session]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Session),
		unregister: make(chan *Session),
	}
}

// OnPacket sets the inbound control packet handler (the command router).
func (h *Hub) OnPacket(fn PacketHandler) {
	h.onPacket = fn
}

// OnEmpty sets the callback fired when the last session disconnects. The
// agent uses it to stop streaming when nobody is watching.
func (h *Hub) OnEmpty(fn func()) {
	h.onEmpty = fn
}

// Run is the hub's main loop; call it in a goroutine before serving.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			count := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("viewer connected", "session", s.ID, "total", count)

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				s.closeSend()
			}
			count := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("viewer disconnected", "session", s.ID, "remaining", count)
			if count == 0 && h.onEmpty != nil {
				h.onEmpty()
			}

		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.sessions {
				if !s.Send(msg) {
					// Buffer full: the viewer is too slow. Evict it.
					s.closeSend()
					delete(h.sessions, s)
					h.slowEvicted.Add(1)
					h.logger.Warn("evicted slow viewer", "session", s.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// handlePacket routes an inbound packet to the registered handler.
func (h *Hub) handlePacket(s *Session, data []byte) {
	if h.onPacket != nil {
		h.onPacket(s, data)
	}
}

// Publish frames a media payload and broadcasts it to every session. The
// payload is copied during framing; it is never retained past this call.
func (h *Hub) Publish(tag protocol.StreamTag, payload []byte) {
	h.framesSent.Add(1)
	h.enqueue(NewBinaryMessage(protocol.EncodeFrame(tag, payload)))
}

// PublishRaw broadcasts an already-framed binary message (used for
// live-audio frames carrying the timestamp header).
func (h *Hub) PublishRaw(frame []byte) {
	h.framesSent.Add(1)
	h.enqueue(NewBinaryMessage(frame))
}

// PublishEvent broadcasts a JSON control event to every session.
func (h *Hub) PublishEvent(command string, payload any) {
	data, err := protocol.EncodeEvent(command, payload)
	if err != nil {
		h.logger.Error("encode broadcast event", "command", command, "err", err)
		return
	}
	h.eventsSent.Add(1)
	h.enqueue(NewJSONMessage(data))
}

// SendEvent sends a JSON control event to a single session.
func (h *Hub) SendEvent(s *Session, command string, payload any) {
	data, err := protocol.EncodeEvent(command, payload)
	if err != nil {
		h.logger.Error("encode event", "command", command, "err", err)
		return
	}
	h.eventsSent.Add(1)
	if !s.Send(NewJSONMessage(data)) {
		h.logger.Warn("dropped event for slow viewer", "session", s.ID, "command", command)
	}
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast queue full: drop rather than block the capture loop.
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// SessionCount returns the number of connected viewers.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats contains hub counters.
type Stats struct {
	Sessions    int    `json:"sessions"`
	FramesSent  uint64 `json:"frames_sent"`
	EventsSent  uint64 `json:"events_sent"`
	SlowEvicted uint64 `json:"slow_evicted"`
}

// GetStats returns a snapshot of the hub counters.
func (h *Hub) GetStats() Stats {
	return Stats{
		Sessions:    h.SessionCount(),
		FramesSent:  h.framesSent.Load(),
		EventsSent:  h.eventsSent.Load(),
		SlowEvicted: h.slowEvicted.Load(),
	}
}

// RegisterRoutes registers the viewer WebSocket endpoint on a Fiber app.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		newSession(h, c).run()
	}))
}
