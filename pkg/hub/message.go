// Package hub provides the thread-safe WebSocket session broadcaster using
// the channel-based fan-out pattern: every capture loop publishes media
// frames and JSON events here, and the hub fans them out to all connected
// viewer sessions with per-session non-blocking sends.
package hub

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded control event.
	JSONMessage MessageType = iota
	// BinaryMessage is a tagged media frame (JPEG, PCM).
	BinaryMessage
)

// Message is one outbound message queued for a session.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
