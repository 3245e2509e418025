package webcam

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/encoder"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

// fakeDevice returns a fixed frame on every read.
type fakeDevice struct {
	mu     sync.Mutex
	frame  []byte
	reads  int
	closed bool
}

func (d *fakeDevice) ReadJPEG(quality int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	return d.frame, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakePublisher struct {
	mu     sync.Mutex
	tags   []protocol.StreamTag
	events map[string][]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]any)}
}

func (f *fakePublisher) Publish(tag protocol.StreamTag, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
}

func (f *fakePublisher) PublishEvent(command string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[command] = append(f.events[command], payload)
}

func (f *fakePublisher) countTag(tag protocol.StreamTag) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tags {
		if t == tag {
			n++
		}
	}
	return n
}

func (f *fakePublisher) logContains(msg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events[protocol.EvtLog] {
		if e == msg {
			return true
		}
	}
	return false
}

func testWebcam(t *testing.T, dev *fakeDevice) (*Webcam, *fakePublisher) {
	t.Helper()
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 5 * time.Millisecond

	pub := newFakePublisher()
	w := New(pub, encoder.New("ffmpeg-missing-binary"), cfg, t.TempDir(), nil)
	w.open = func(deviceID int) (Device, error) { return dev, nil }
	w.newSource = func(c audioio.Config, l *slog.Logger) (audioio.Source, error) {
		return audioio.NewMockSource(c, l), nil
	}
	w.sleep = func(time.Duration) { time.Sleep(time.Millisecond) }
	return w, pub
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

func TestStart_PublishesFramesAndMicAudio(t *testing.T) {
	dev := &fakeDevice{frame: []byte{0xFF, 0xD8, 1}}
	w, pub := testWebcam(t, dev)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return pub.countTag(protocol.TagWebcam) >= 3 })
	waitFor(t, func() bool { return pub.countTag(protocol.TagWebcamAudio) >= 1 })
}

func TestStart_NoDedup(t *testing.T) {
	// Identical consecutive frames still broadcast; only the screen
	// pipeline deduplicates.
	dev := &fakeDevice{frame: []byte{1, 2, 3}}
	w, pub := testWebcam(t, dev)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return pub.countTag(protocol.TagWebcam) >= 5 })
}

func TestStart_TwiceIsNoop(t *testing.T) {
	dev := &fakeDevice{frame: []byte{1}}
	w, _ := testWebcam(t, dev)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	if !w.Running() {
		t.Error("Running() = false while started")
	}
}

func TestStart_OpenFailure(t *testing.T) {
	w, _ := testWebcam(t, nil)
	w.open = func(deviceID int) (Device, error) { return nil, errors.New("no camera") }

	if err := w.Start(); err == nil {
		t.Fatal("Start should fail when the device cannot open")
	}
	if w.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestStop_ReleasesDevice(t *testing.T) {
	dev := &fakeDevice{frame: []byte{1}}
	w, _ := testWebcam(t, dev)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop() // idempotent

	if !dev.isClosed() {
		t.Error("device not closed after Stop")
	}
	if w.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestStartRecording_RejectsSecond(t *testing.T) {
	dev := &fakeDevice{frame: []byte{1}}
	w, _ := testWebcam(t, dev)
	defer w.Stop()

	if err := w.StartRecording(time.Second, false); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !w.Running() {
		t.Error("StartRecording should start the camera")
	}
	if err := w.StartRecording(time.Second, false); err == nil {
		t.Fatal("second StartRecording should be rejected")
	}
	w.CancelRecording()
	if w.Recording() {
		t.Error("Recording() = true after cancel")
	}
}

func TestRecording_ExpiryReportsEncodeFailure(t *testing.T) {
	dev := &fakeDevice{frame: []byte{1, 2, 3}}
	w, pub := testWebcam(t, dev)
	defer w.Stop()

	if err := w.StartRecording(100*time.Millisecond, false); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	waitFor(t, func() bool { return !w.Recording() })
	waitFor(t, func() bool { return pub.logContains("Webcam recording failed") })
}
