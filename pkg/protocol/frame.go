// Package protocol defines the wire format between the agent and its viewers.
// A single WebSocket connection carries two message shapes: JSON control
// packets (text frames) and tagged binary media frames.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// StreamTag identifies which logical media channel a binary frame belongs to.
type StreamTag byte

const (
	// TagScreen carries a JPEG screen capture.
	TagScreen StreamTag = 0x01
	// TagWebcam carries a JPEG webcam frame.
	TagWebcam StreamTag = 0x02
	// TagWebcamAudio carries PCM16 mono microphone audio paired with the webcam.
	TagWebcamAudio StreamTag = 0x03
	// TagLiveAudio carries PCM16 mono audio prefixed with a 4-byte
	// little-endian capture timestamp (milliseconds since epoch).
	TagLiveAudio StreamTag = 0x04
)

// String returns a human-readable name for the tag.
func (t StreamTag) String() string {
	switch t {
	case TagScreen:
		return "screen"
	case TagWebcam:
		return "webcam"
	case TagWebcamAudio:
		return "webcam-audio"
	case TagLiveAudio:
		return "live-audio"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Valid reports whether the tag is one of the known media channels.
func (t StreamTag) Valid() bool {
	return t >= TagScreen && t <= TagLiveAudio
}

// liveAudioHeaderLen is the timestamp prefix length on TagLiveAudio payloads.
const liveAudioHeaderLen = 4

// EncodeFrame frames a media payload for the wire: one tag byte followed by
// the payload. The payload is copied; callers may reuse their buffer.
func EncodeFrame(tag StreamTag, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(tag)
	copy(buf[1:], payload)
	return buf
}

// EncodeLiveAudio frames a live-audio PCM chunk with its capture timestamp
// (milliseconds since epoch, truncated to 32 bits, little-endian).
func EncodeLiveAudio(tsMillis uint32, pcm []byte) []byte {
	buf := make([]byte, 1+liveAudioHeaderLen+len(pcm))
	buf[0] = byte(TagLiveAudio)
	binary.LittleEndian.PutUint32(buf[1:], tsMillis)
	copy(buf[1+liveAudioHeaderLen:], pcm)
	return buf
}

// Frame is a decoded binary media frame.
type Frame struct {
	Tag StreamTag

	// Payload is the media data with the tag (and, for live audio, the
	// timestamp header) stripped.
	Payload []byte

	// TimestampMS is the capture timestamp for live-audio frames, zero for
	// every other tag. It is diagnostic only; playback does not depend on it.
	TimestampMS uint32
}

// DecodeFrame parses a binary wire frame. The returned payload aliases data;
// it is only valid until the caller reuses the buffer.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	tag := StreamTag(data[0])
	if !tag.Valid() {
		return Frame{}, fmt.Errorf("unknown stream tag 0x%02x", data[0])
	}

	if tag == TagLiveAudio {
		if len(data) < 1+liveAudioHeaderLen {
			return Frame{}, fmt.Errorf("live-audio frame too short: %d bytes", len(data))
		}
		return Frame{
			Tag:         tag,
			TimestampMS: binary.LittleEndian.Uint32(data[1:]),
			Payload:     data[1+liveAudioHeaderLen:],
		}, nil
	}

	return Frame{Tag: tag, Payload: data[1:]}, nil
}
