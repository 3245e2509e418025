package audio

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/recorder"
)

// fakePublisher records everything published.
type fakePublisher struct {
	mu     sync.Mutex
	frames [][]byte
	events map[string][]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]any)}
}

func (f *fakePublisher) PublishRaw(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakePublisher) PublishEvent(command string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[command] = append(f.events[command], payload)
}

func (f *fakePublisher) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakePublisher) eventPayloads(command string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[command]
}

func testConfig() audioio.Config {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 5 * time.Millisecond
	return cfg
}

func mockFactory(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error) {
	return audioio.NewMockSource(cfg, logger), nil
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

func TestStreamer_PublishesTimestampedFrames(t *testing.T) {
	pub := newFakePublisher()
	s := NewStreamer(pub, testConfig(), nil)
	s.newSource = mockFactory

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return pub.frameCount() >= 3 })

	pub.mu.Lock()
	frame := pub.frames[0]
	pub.mu.Unlock()

	decoded, err := protocol.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.Tag != protocol.TagLiveAudio {
		t.Errorf("tag = %v, want TagLiveAudio", decoded.Tag)
	}
	if decoded.TimestampMS == 0 {
		t.Error("timestamp missing from live audio frame")
	}
	// 5ms at 16kHz mono = 80 samples = 160 bytes of PCM.
	if len(decoded.Payload) != 160 {
		t.Errorf("payload = %d bytes, want 160", len(decoded.Payload))
	}
}

func TestStreamer_StartTwiceIsNoop(t *testing.T) {
	pub := newFakePublisher()
	s := NewStreamer(pub, testConfig(), nil)
	s.newSource = mockFactory

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	if !s.Streaming() {
		t.Error("Streaming() = false while running")
	}
}

func TestStreamer_StopIdempotent(t *testing.T) {
	pub := newFakePublisher()
	s := NewStreamer(pub, testConfig(), nil)
	s.newSource = mockFactory

	s.Stop() // never started

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()

	if s.Streaming() {
		t.Error("Streaming() = true after Stop")
	}
}

func TestRecorder_RejectsConcurrentClips(t *testing.T) {
	pub := newFakePublisher()
	r := NewRecorder(pub, testConfig(), t.TempDir(), nil)
	r.newSource = mockFactory

	if err := r.Start(60); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Cancel()

	if err := r.Start(60); err == nil {
		t.Fatal("second Start should be rejected while recording")
	}
}

func TestRecorder_CancelDiscardsClip(t *testing.T) {
	pub := newFakePublisher()
	r := NewRecorder(pub, testConfig(), t.TempDir(), nil)
	r.newSource = mockFactory

	if err := r.Start(60); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return r.Recording() })

	r.Cancel()
	waitFor(t, func() bool { return !r.Recording() })

	if got := pub.eventPayloads(protocol.EvtAudioRecordFile); len(got) != 0 {
		t.Errorf("cancelled clip still published %d events", len(got))
	}
}

func TestRecorder_RunDeliversBase64Clip(t *testing.T) {
	pub := newFakePublisher()
	cfg := testConfig()
	r := NewRecorder(pub, cfg, t.TempDir(), nil)
	r.newSource = mockFactory
	r.recording = true

	src := audioio.NewMockSource(cfg, nil)
	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("mock Start: %v", err)
	}

	sink, err := recorder.NewPCMSink(r.tempDir+"/clip.wav", cfg.SampleRate, cfg.Channels)
	if err != nil {
		t.Fatalf("NewPCMSink: %v", err)
	}

	r.run(ctx, src, sink, 100*time.Millisecond)

	payloads := pub.eventPayloads(protocol.EvtAudioRecordFile)
	if len(payloads) != 1 {
		t.Fatalf("AUDIO_RECORD_FILE events = %d, want 1", len(payloads))
	}
	data, err := base64.StdEncoding.DecodeString(payloads[0].(string))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" {
		t.Errorf("payload is not a WAV file (got %d bytes)", len(data))
	}
	if len(pub.eventPayloads(protocol.EvtLog)) == 0 {
		t.Error("no LOG event after recording finished")
	}
	if r.Recording() {
		t.Error("Recording() = true after run returned")
	}
}
