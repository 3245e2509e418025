package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/recorder"
)

const (
	// MaxRecordSeconds caps RECORD_AUDIO duration.
	MaxRecordSeconds = 60

	// flushGrace lets the last buffered chunk land before the sink closes.
	flushGrace = 100 * time.Millisecond
)

// Recorder captures bounded microphone clips to WAV and delivers them to
// viewers as base64 AUDIO_RECORD_FILE events. At most one clip records at a
// time; the clip self-terminates when its duration elapses.
type Recorder struct {
	logger    *slog.Logger
	pub       Publisher
	cfg       audioio.Config
	tempDir   string
	newSource SourceFactory

	mu        sync.Mutex
	recording bool
	cancel    context.CancelFunc
}

// NewRecorder creates the audio clip recorder.
func NewRecorder(pub Publisher, cfg audioio.Config, tempDir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Recorder{
		logger:    logger,
		pub:       pub,
		cfg:       cfg,
		tempDir:   tempDir,
		newSource: audioio.NewSource,
	}
}

// Start begins a clip of up to seconds duration. Returns an error while a
// clip is already recording.
func (r *Recorder) Start(seconds int) error {
	if seconds <= 0 || seconds > MaxRecordSeconds {
		seconds = MaxRecordSeconds
	}

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return fmt.Errorf("already recording audio")
	}
	r.recording = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	src, err := r.newSource(r.cfg, r.logger)
	if err != nil {
		r.finish()
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		r.finish()
		return fmt.Errorf("start microphone: %w", err)
	}

	path := filepath.Join(r.tempDir, "audio_"+uuid.NewString()+".wav")
	sink, err := recorder.NewPCMSink(path, r.cfg.SampleRate, r.cfg.Channels)
	if err != nil {
		src.Stop()
		src.Close()
		r.finish()
		return fmt.Errorf("create wav: %w", err)
	}

	r.logger.Info("audio recording started", "seconds", seconds, "path", path)
	go r.run(ctx, src, sink, time.Duration(seconds)*time.Second)
	return nil
}

// run drains the source into the WAV sink until the duration elapses, then
// publishes the encoded clip.
func (r *Recorder) run(ctx context.Context, src audioio.Source, sink *recorder.PCMSink, d time.Duration) {
	defer r.finish()

	timer := time.NewTimer(d + flushGrace)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			src.Stop()
			src.Close()
			sink.Close()
			os.Remove(sink.Path())
			r.logger.Info("audio recording cancelled")
			return
		case <-timer.C:
			break loop
		case chunk, ok := <-src.Stream():
			if !ok {
				break loop
			}
			if err := sink.Write(chunk.Bytes()); err != nil {
				r.logger.Warn("wav write failed", "err", err)
			}
		}
	}

	src.Stop()
	src.Close()
	if err := sink.Close(); err != nil {
		r.logger.Error("close wav", "err", err)
	}
	defer os.Remove(sink.Path())

	data, err := os.ReadFile(sink.Path())
	if err != nil {
		r.logger.Error("read recorded clip", "err", err)
		r.pub.PublishEvent(protocol.EvtLog, "Audio recording failed")
		return
	}

	r.pub.PublishEvent(protocol.EvtAudioRecordFile, base64.StdEncoding.EncodeToString(data))
	r.pub.PublishEvent(protocol.EvtLog, fmt.Sprintf("Audio recording finished (%.1fs)", sink.Duration()))
	r.logger.Info("audio recording finished", "bytes", len(data), "seconds", sink.Duration())
}

// Cancel aborts an active clip; the partial file is discarded. No-op when
// nothing is recording.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Recording reports whether a clip is being captured.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) finish() {
	r.mu.Lock()
	r.recording = false
	r.cancel = nil
	r.mu.Unlock()
}
