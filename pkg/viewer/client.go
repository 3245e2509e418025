// Package viewer implements the thin client side of the agent protocol:
// WebSocket transport, OTP handshake, frame demux, and smoothed live-audio
// playback through the jitter buffer.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/jitter"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

const (
	// handshakeTimeout bounds dial plus the AUTH round trip.
	handshakeTimeout = 10 * time.Second

	// renderQuantum is the fixed pull size of the playback loop.
	renderQuantum = 128
)

// Client is one viewer connection to an agent.
type Client struct {
	logger *slog.Logger
	url    string
	otp    string

	ws      *websocket.Conn
	writeMu sync.Mutex

	buffer  *jitter.Buffer
	rate    int
	newSink func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error)

	// Frame and event callbacks; set before Connect. Called from the read
	// loop, so they must not block.
	OnScreenFrame func(jpeg []byte)
	OnWebcamFrame func(jpeg []byte)
	OnEvent       func(ev protocol.Event)

	authResult chan string
	done       chan struct{}

	audioMu   sync.Mutex
	audioStop context.CancelFunc
	audioDone chan struct{}

	statMu     sync.Mutex
	rtt        time.Duration
	audioDelay time.Duration
}

// New creates a client for ws://host:port/ws with the session password.
func New(url, otp string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rate := audioio.DefaultConfig().SampleRate
	return &Client{
		logger:     logger,
		url:        url,
		otp:        otp,
		buffer:     jitter.NewForRate(rate, jitter.DefaultMaxLatency),
		rate:       rate,
		newSink:    audioio.NewSink,
		authResult: make(chan string, 1),
		done:       make(chan struct{}),
	}
}

// Connect dials the agent and runs the OTP handshake.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.ws = ws
	go c.readLoop()

	if err := c.write(protocol.Packet{Type: protocol.TypeAuth, Payload: c.otp}); err != nil {
		ws.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	select {
	case res := <-c.authResult:
		if res != "OK" {
			ws.Close()
			return fmt.Errorf("authentication rejected")
		}
	case <-time.After(handshakeTimeout):
		ws.Close()
		return fmt.Errorf("authentication timed out")
	case <-ctx.Done():
		ws.Close()
		return ctx.Err()
	}

	c.logger.Info("connected", "url", c.url)
	return nil
}

// readLoop demuxes inbound messages until the connection closes.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleEvent(data)
		case websocket.BinaryMessage:
			c.handleFrame(data)
		}
	}
}

func (c *Client) handleEvent(data []byte) {
	var ev protocol.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("dropping malformed event", "err", err)
		return
	}

	switch ev.Command {
	case protocol.EvtAuthResult:
		var res string
		json.Unmarshal(ev.Payload, &res)
		select {
		case c.authResult <- res:
		default:
		}
	case protocol.EvtPong:
		c.handlePong(ev.Payload)
	default:
		if c.OnEvent != nil {
			c.OnEvent(ev)
		}
	}
}

// handlePong computes the round trip from the echoed send timestamp.
func (c *Client) handlePong(payload json.RawMessage) {
	var echoed string
	if err := json.Unmarshal(payload, &echoed); err != nil {
		return
	}
	sentMs, err := strconv.ParseInt(echoed, 10, 64)
	if err != nil {
		return
	}

	rtt := time.Since(time.UnixMilli(sentMs))
	c.statMu.Lock()
	c.rtt = rtt
	c.statMu.Unlock()
}

func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "err", err)
		return
	}

	switch frame.Tag {
	case protocol.TagScreen:
		if c.OnScreenFrame != nil {
			c.OnScreenFrame(frame.Payload)
		}
	case protocol.TagWebcam:
		if c.OnWebcamFrame != nil {
			c.OnWebcamFrame(frame.Payload)
		}
	case protocol.TagWebcamAudio:
		c.buffer.Push(audioio.BytesToSamples(frame.Payload))
	case protocol.TagLiveAudio:
		// The capture timestamp is a delay gauge, not a scheduler: the
		// jitter buffer alone decides playback timing.
		sent := time.UnixMilli(int64(frame.TimestampMS))
		c.statMu.Lock()
		c.audioDelay = time.Since(sent)
		c.statMu.Unlock()

		c.buffer.Push(audioio.BytesToSamples(frame.Payload))
	}
}

// write sends one JSON control packet; gorilla allows a single writer.
func (c *Client) write(pkt protocol.Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send issues a command to the agent.
func (c *Client) Send(command, param string) error {
	return c.write(protocol.Packet{Command: command, Param: param})
}

// Ping sends a timestamped PING; the PONG echo updates RTT.
func (c *Client) Ping() error {
	return c.Send(protocol.CmdPing, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// RTT returns the last measured round trip.
func (c *Client) RTT() time.Duration {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.rtt
}

// AudioDelay returns the last capture-to-receive delay of the live stream.
func (c *Client) AudioDelay() time.Duration {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.audioDelay
}

// Buffer exposes the jitter buffer (stats, tests).
func (c *Client) Buffer() *jitter.Buffer {
	return c.buffer
}

// StartAudio begins draining the jitter buffer into a playback sink in
// fixed render quanta. A second call while running is a no-op.
func (c *Client) StartAudio() error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	if c.audioStop != nil {
		return nil
	}

	cfg := audioio.DefaultConfig()
	cfg.SampleRate = c.rate
	sink, err := c.newSink(cfg, c.logger)
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sink.Start(ctx); err != nil {
		cancel()
		sink.Close()
		return fmt.Errorf("start playback: %w", err)
	}

	c.audioStop = cancel
	c.audioDone = make(chan struct{})
	go c.playLoop(ctx, sink, c.audioDone)
	return nil
}

// playLoop pulls one render quantum at a time. Pacing follows an absolute
// schedule: the next deadline advances from the previous one, clamped to
// never fall behind the wall clock, so jitter in this loop cannot
// accumulate into drift.
func (c *Client) playLoop(ctx context.Context, sink audioio.Sink, done chan struct{}) {
	defer close(done)
	defer sink.Close()
	defer sink.Stop()

	quantum := time.Duration(renderQuantum) * time.Second / time.Duration(c.rate)
	const epsilon = time.Millisecond

	next := time.Now().Add(quantum)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		samples := c.buffer.Pull(renderQuantum)
		err := sink.Write(ctx, audioio.AudioChunk{
			Samples:    samples,
			SampleRate: c.rate,
			Channels:   1,
		})
		if err != nil {
			return
		}

		next = next.Add(quantum)
		if earliest := time.Now().Add(epsilon); next.Before(earliest) {
			next = earliest
		}
	}
}

// StopAudio halts playback and clears any buffered audio so a later restart
// begins fresh.
func (c *Client) StopAudio() {
	c.audioMu.Lock()
	stop, done := c.audioStop, c.audioDone
	c.audioStop, c.audioDone = nil, nil
	c.audioMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	c.buffer.Clear()
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.StopAudio()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return err
}
