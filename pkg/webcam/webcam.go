package webcam

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

	"github.com/dvhoang/go-remotedesk/pkg/audio"
	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/encoder"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/recorder"
)

const (
	// jpegQuality trades sharpness for webcam frame size.
	jpegQuality = 50

	// RecordFPS is the declared frame rate of webcam recordings.
	RecordFPS = 15

	// frameSleep paces the camera loop between reads.
	frameSleep = 10 * time.Millisecond
)

// Publisher is the slice of the session hub the pipeline needs.
type Publisher interface {
	Publish(tag protocol.StreamTag, payload []byte)
	PublishEvent(command string, payload any)
}

// Webcam owns the camera loop. Every decoded frame is broadcast; webcam
// frames never dedup because camera noise makes identical frames rare.
type Webcam struct {
	logger   *slog.Logger
	pub      Publisher
	open     DeviceOpener
	deviceID int
	enc      *encoder.Encoder
	tempDir  string
	audioCfg audioio.Config

	newSource audio.SourceFactory
	sleep     func(time.Duration)

	mu     sync.Mutex
	dev    Device
	mic    audioio.Source
	cancel context.CancelFunc
	done   chan struct{}

	recMu sync.Mutex
	rec   *recorder.Session
	tap   *audio.Tap
}

// New wires the webcam pipeline.
func New(pub Publisher, enc *encoder.Encoder, audioCfg audioio.Config, tempDir string, logger *slog.Logger) *Webcam {
	if logger == nil {
		logger = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Webcam{
		logger:    logger,
		pub:       pub,
		open:      OpenDevice,
		enc:       enc,
		tempDir:   tempDir,
		audioCfg:  audioCfg,
		newSource: audioio.NewSource,
		sleep:     time.Sleep,
	}
}

// Start opens the camera and microphone and begins broadcasting. A second
// Start while running is a no-op.
func (w *Webcam) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dev != nil {
		return nil
	}

	dev, err := w.open(w.deviceID)
	if err != nil {
		return fmt.Errorf("start webcam: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	mic, err := w.newSource(w.audioCfg, w.logger)
	if err != nil {
		w.logger.Warn("webcam runs without audio", "err", err)
	} else if err := mic.Start(ctx); err != nil {
		w.logger.Warn("webcam runs without audio", "err", err)
		mic.Close()
		mic = nil
	}

	w.dev = dev
	w.mic = mic
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, dev, mic, w.done)

	w.logger.Info("webcam started", "device", w.deviceID)
	w.pub.PublishEvent(protocol.EvtLog, "Webcam started")
	return nil
}

// loop reads, records, and broadcasts frames until ctx is cancelled; the
// paired microphone chunks interleave as webcam-audio frames.
func (w *Webcam) loop(ctx context.Context, dev Device, mic audioio.Source, done chan struct{}) {
	defer close(done)

	var micCh <-chan audioio.AudioChunk
	if mic != nil {
		micCh = mic.Stream()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-micCh:
			if !ok {
				micCh = nil
				continue
			}
			w.pub.Publish(protocol.TagWebcamAudio, audioio.SamplesToBytes(chunk.Samples))
			continue
		default:
		}

		frame, err := dev.ReadJPEG(jpegQuality)
		if err != nil {
			w.logger.Warn("webcam read failed", "err", err)
			w.sleep(frameSleep)
			continue
		}

		w.advanceRecording(frame)

		w.pub.Publish(protocol.TagWebcam, frame)
		w.sleep(frameSleep)
	}
}

// advanceRecording runs the frame-rate compensation step under the recording
// lock so a concurrent stop can never finalize mid-advance.
func (w *Webcam) advanceRecording(frame []byte) {
	w.recMu.Lock()
	var expired bool
	if w.rec != nil {
		if err := w.rec.Advance(frame); err != nil {
			w.logger.Error("webcam recording advance", "err", err)
		}
		expired = w.rec.Expired()
	}
	w.recMu.Unlock()

	if expired {
		w.finishRecording(true)
	}
}

// Stop releases the camera and microphone and finalizes an active recording.
// Safe to call when not running.
func (w *Webcam) Stop() {
	w.mu.Lock()
	dev, mic, cancel, done := w.dev, w.mic, w.cancel, w.done
	w.dev, w.mic, w.cancel, w.done = nil, nil, nil, nil
	w.mu.Unlock()

	if dev == nil {
		return
	}

	w.finishRecording(true)
	cancel()
	if mic != nil {
		mic.Stop()
	}
	<-done
	if mic != nil {
		mic.Close()
	}
	dev.Close()

	w.logger.Info("webcam stopped")
	w.pub.PublishEvent(protocol.EvtLog, "Webcam stopped")
}

// Running reports whether the camera loop is active.
func (w *Webcam) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dev != nil
}

// StartRecording arms a webcam recording, starting the camera if needed.
// Rejected while one is active.
func (w *Webcam) StartRecording(duration time.Duration, includeAudio bool) error {
	if err := w.Start(); err != nil {
		return err
	}

	w.recMu.Lock()
	defer w.recMu.Unlock()

	if w.rec != nil {
		return fmt.Errorf("already recording webcam")
	}

	rec, err := recorder.Start(recorder.Config{
		Source:       "webcam",
		FPS:          RecordFPS,
		Duration:     duration,
		IncludeAudio: includeAudio,
		SampleRate:   w.audioCfg.SampleRate,
		Channels:     w.audioCfg.Channels,
		TempDir:      w.tempDir,
	})
	if err != nil {
		return err
	}

	if includeAudio {
		tap, err := audio.StartTap(w.audioCfg, w.newSource, rec.AudioSink(), w.logger)
		if err != nil {
			w.logger.Warn("recording continues without audio", "err", err)
		} else {
			w.tap = tap
		}
	}

	w.rec = rec
	w.logger.Info("webcam recording started", "duration", duration, "audio", includeAudio)
	w.pub.PublishEvent(protocol.EvtLog, fmt.Sprintf("Webcam recording started (%.0fs)", duration.Seconds()))
	return nil
}

// CancelRecording discards an active recording without encoding.
func (w *Webcam) CancelRecording() {
	w.finishRecording(false)
}

// Recording reports whether a recording is armed.
func (w *Webcam) Recording() bool {
	w.recMu.Lock()
	defer w.recMu.Unlock()
	return w.rec != nil
}

func (w *Webcam) finishRecording(encode bool) {
	w.recMu.Lock()
	rec, tap := w.rec, w.tap
	w.rec, w.tap = nil, nil
	w.recMu.Unlock()

	if rec == nil {
		return
	}
	tap.Stop()

	art, err := rec.Finalize()
	if err != nil {
		w.logger.Error("finalize webcam recording", "err", err)
	}

	if !encode || art.FramesWritten == 0 {
		if encode {
			w.logger.Warn("webcam recording produced no frames, discarding")
		}
		rec.Cleanup()
		return
	}
	go w.encodeAndDeliver(rec, art)
}

func (w *Webcam) encodeAndDeliver(rec *recorder.Session, art recorder.Artifacts) {
	defer rec.Cleanup()

	out := filepath.Join(w.tempDir, "webcam_"+uuid.NewString()+".webm")
	defer os.Remove(out)

	job := w.enc.Encode(context.Background(), encoder.Input{
		FrameDir:     art.FrameDir,
		FramePattern: art.FramePattern,
		FPS:          art.FPS,
		AudioPath:    art.AudioPath,
		OutputPath:   out,
	})
	if _, err := job.Wait(context.Background()); err != nil {
		w.logger.Error("webcam recording encode", "err", err)
		w.pub.PublishEvent(protocol.EvtLog, "Webcam recording failed")
		return
	}

	data, err := os.ReadFile(out)
	if err != nil {
		w.logger.Error("read encoded recording", "err", err)
		w.pub.PublishEvent(protocol.EvtLog, "Webcam recording failed")
		return
	}

	w.pub.PublishEvent(protocol.EvtVideoFile, base64.StdEncoding.EncodeToString(data))
	w.pub.PublishEvent(protocol.EvtLog, fmt.Sprintf("Webcam recording finished (%d frames)", art.FramesWritten))
	w.logger.Info("webcam recording delivered", "frames", art.FramesWritten, "bytes", len(data))
}
