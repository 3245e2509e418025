package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/encoder"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

// fakeGrabber returns queued frames in order, repeating the last one.
type fakeGrabber struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
	err    error
}

func (g *fakeGrabber) Capture(quality int, scale float64) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	frame := g.frames[g.idx]
	if g.idx < len(g.frames)-1 {
		g.idx++
	}
	return frame, nil
}

type published struct {
	tag     protocol.StreamTag
	payload []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	frames []published
	events map[string][]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]any)}
}

func (f *fakePublisher) Publish(tag protocol.StreamTag, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, published{tag, payload})
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

func (f *fakePublisher) logEvents() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events[protocol.EvtLog]...)
}

type fakeLive struct {
	mu      sync.Mutex
	starts  int
	stops   int
	failure error
}

func (l *fakeLive) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	return l.failure
}

func (l *fakeLive) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func testScreen(t *testing.T, g *fakeGrabber, pub *fakePublisher, live LiveAudio) *Screen {
	t.Helper()
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	s := NewScreen(g, pub, live, encoder.New("ffmpeg-missing-binary"), cfg, t.TempDir(), nil)
	s.sleep = func(time.Duration) {}
	return s
}

func TestTick_DeduplicatesIdenticalFrames(t *testing.T) {
	same := []byte{1, 2, 3}
	g := &fakeGrabber{frames: [][]byte{same, same, same, {9, 9}}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)

	s.StartStreaming()
	for i := 0; i < 4; i++ {
		s.tick()
	}

	if got := pub.frameCount(); got != 2 {
		t.Errorf("published %d frames, want 2 (dedup)", got)
	}
}

func TestTick_IdleDoesNotCapture(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{{1}}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)

	s.tick()
	s.tick()

	if got := pub.frameCount(); got != 0 {
		t.Errorf("published %d frames while idle, want 0", got)
	}
}

func TestTick_DedupResetsAfterIdle(t *testing.T) {
	same := []byte{1, 2, 3}
	g := &fakeGrabber{frames: [][]byte{same}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)

	s.StartStreaming()
	s.tick()
	s.StopStreaming()
	s.tick() // idle pass clears dedup state
	s.StartStreaming()
	s.tick()

	if got := pub.frameCount(); got != 2 {
		t.Errorf("published %d frames, want 2 (dedup resets after idle)", got)
	}
}

func TestTick_CaptureFailureDegradesToIdle(t *testing.T) {
	g := &fakeGrabber{err: errors.New("display gone")}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)

	s.StartStreaming()
	s.tick()

	if got := pub.frameCount(); got != 0 {
		t.Errorf("published %d frames after capture failure, want 0", got)
	}
	if !s.Streaming() {
		t.Error("capture failure should not stop streaming")
	}
}

func TestStartStreaming_PairsLiveAudio(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{{1}}}
	pub := newFakePublisher()
	live := &fakeLive{}
	s := testScreen(t, g, pub, live)

	s.StartStreaming()
	s.StartStreaming() // no-op
	s.StopStreaming()
	s.StopStreaming() // no-op

	if live.starts != 1 {
		t.Errorf("live audio started %d times, want 1", live.starts)
	}
	if live.stops != 1 {
		t.Errorf("live audio stopped %d times, want 1", live.stops)
	}
}

func TestStartStreaming_SurvivesLiveAudioFailure(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{{1}}}
	pub := newFakePublisher()
	live := &fakeLive{failure: errors.New("no microphone")}
	s := testScreen(t, g, pub, live)

	s.StartStreaming()
	s.tick()

	if !s.Streaming() {
		t.Error("streaming should start even without a microphone")
	}
	if got := pub.frameCount(); got != 1 {
		t.Errorf("published %d frames, want 1", got)
	}
}

func TestStartRecording_RejectsSecond(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{{1}}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)
	defer s.CancelRecording()

	if err := s.StartRecording(time.Second, false); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StartRecording(time.Second, false); err == nil {
		t.Fatal("second StartRecording should be rejected")
	}
	if !s.Recording() {
		t.Error("Recording() = false while armed")
	}
}

func TestCancelRecording_DiscardsWithoutEvents(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{{1}}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)

	if err := s.StartRecording(time.Second, false); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	s.tick() // no viewers, recording alone drives capture
	s.CancelRecording()
	s.CancelRecording() // idempotent

	if s.Recording() {
		t.Error("Recording() = true after cancel")
	}
	pub.mu.Lock()
	recEvents := len(pub.events[protocol.EvtScreenRecordFile])
	pub.mu.Unlock()
	if recEvents != 0 {
		t.Errorf("cancelled recording still delivered %d clips", recEvents)
	}
}

func TestRecording_ExpiryReportsEncodeFailure(t *testing.T) {
	// The encoder binary does not exist, so an expired recording must
	// surface a failure LOG event rather than a clip.
	g := &fakeGrabber{frames: [][]byte{{1, 2, 3}}}
	pub := newFakePublisher()
	s := testScreen(t, g, pub, nil)
	s.sleep = func(d time.Duration) { time.Sleep(5 * time.Millisecond) }

	if err := s.StartRecording(100*time.Millisecond, false); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Recording() && time.Now().Before(deadline) {
		s.tick()
	}
	if s.Recording() {
		t.Fatal("recording never expired")
	}

	failed := func() bool {
		for _, e := range pub.logEvents() {
			if e == "Screen recording failed" {
				return true
			}
		}
		return false
	}
	waitUntil(t, failed)
}

func waitUntil(t *testing.T, cond func() bool) {
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
