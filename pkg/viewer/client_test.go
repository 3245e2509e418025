package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

// fakeAgent is a minimal agent endpoint: it answers AUTH and then replays a
// scripted set of messages.
type fakeAgent struct {
	t   *testing.T
	otp string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeAgent(t *testing.T, otp string) (*fakeAgent, string) {
	t.Helper()
	a := &fakeAgent{t: t, otp: otp}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		a.serve(conn)
	}))
	t.Cleanup(srv.Close)

	return a, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func (a *fakeAgent) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pkt, err := protocol.ParsePacket(data)
		if err != nil {
			continue
		}
		switch {
		case pkt.Type == protocol.TypeAuth:
			res := "FAIL"
			if pkt.Payload == a.otp {
				res = "OK"
			}
			a.sendEvent(protocol.EvtAuthResult, res)
		case pkt.Command == protocol.CmdPing:
			a.sendEvent(protocol.EvtPong, pkt.Param)
		}
	}
}

func (a *fakeAgent) sendEvent(command string, payload any) {
	data, err := protocol.EncodeEvent(command, payload)
	if err != nil {
		a.t.Errorf("encode event: %v", err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *fakeAgent) sendBinary(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnect_Authenticates(t *testing.T) {
	_, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnect_RejectedOTP(t *testing.T) {
	_, url := newFakeAgent(t, "123456")
	c := New(url, "999999", nil)
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect should fail with the wrong password")
	}
}

func TestFrameDemux(t *testing.T) {
	agent, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()

	var mu sync.Mutex
	var screens, webcams [][]byte
	c.OnScreenFrame = func(b []byte) {
		mu.Lock()
		screens = append(screens, b)
		mu.Unlock()
	}
	c.OnWebcamFrame = func(b []byte) {
		mu.Lock()
		webcams = append(webcams, b)
		mu.Unlock()
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	agent.sendBinary(protocol.EncodeFrame(protocol.TagScreen, []byte{1, 2, 3}))
	agent.sendBinary(protocol.EncodeFrame(protocol.TagWebcam, []byte{4, 5}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(screens) == 1 && len(webcams) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if string(screens[0]) != string([]byte{1, 2, 3}) {
		t.Errorf("screen frame = %v", screens[0])
	}
}

func TestLiveAudioFillsJitterBuffer(t *testing.T) {
	agent, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pcm := audioio.SamplesToBytes(make([]int16, 160))
	ts := uint32(time.Now().UnixMilli())
	agent.sendBinary(protocol.EncodeLiveAudio(ts, pcm))
	agent.sendBinary(protocol.EncodeLiveAudio(ts, pcm))

	waitFor(t, func() bool { return c.Buffer().Len() == 320 })
}

func TestPingMeasuresRTT(t *testing.T) {
	_, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	waitFor(t, func() bool { return c.RTT() > 0 })
}

func TestEventCallbackSkipsInternalEvents(t *testing.T) {
	agent, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()

	var mu sync.Mutex
	var got []string
	c.OnEvent = func(ev protocol.Event) {
		mu.Lock()
		got = append(got, ev.Command)
		mu.Unlock()
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	agent.sendEvent(protocol.EvtLog, "hello")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	// AUTH_RESULT was consumed by the handshake, not surfaced.
	if got[0] != protocol.EvtLog {
		t.Errorf("event = %s, want LOG", got[0])
	}
}

func TestAudioPlaybackDrainsBuffer(t *testing.T) {
	agent, url := newFakeAgent(t, "123456")
	c := New(url, "123456", nil)
	defer c.Close()
	c.newSink = func(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
		return audioio.NewMockSink(cfg, logger), nil
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pcm := audioio.SamplesToBytes(make([]int16, 1600)) // 100ms at 16kHz
	agent.sendBinary(protocol.EncodeLiveAudio(uint32(time.Now().UnixMilli()), pcm))
	waitFor(t, func() bool { return c.Buffer().Len() > 0 })

	if err := c.StartAudio(); err != nil {
		t.Fatalf("StartAudio: %v", err)
	}
	if err := c.StartAudio(); err != nil {
		t.Errorf("second StartAudio: %v", err)
	}

	waitFor(t, func() bool { return c.Buffer().Len() == 0 })

	c.StopAudio()
	c.StopAudio() // idempotent

	// Stop clears leftover audio so a restart begins fresh.
	agent.sendBinary(protocol.EncodeLiveAudio(uint32(time.Now().UnixMilli()), pcm))
	waitFor(t, func() bool { return c.Buffer().Len() > 0 })
	c.buffer.Clear()
}

func TestSendMarshalsCommandPacket(t *testing.T) {
	pkt := protocol.Packet{Command: protocol.CmdStartStream}
	data, err := json.Marshal(pkt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := protocol.ParsePacket(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Command != protocol.CmdStartStream {
		t.Errorf("command = %s", parsed.Command)
	}
}
