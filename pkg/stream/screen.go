// Package stream runs the screen pipeline: capture, dedup, broadcast, and
// duration-bounded recording.
package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dvhoang/go-remotedesk/pkg/audio"
	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/capture"
	"github.com/dvhoang/go-remotedesk/pkg/encoder"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/recorder"
)

const (
	// jpegQuality is the screen stream encode quality.
	jpegQuality = 90

	// RecordFPS is the declared frame rate of screen recordings.
	RecordFPS = 24

	// streamSleep paces the capture loop while viewers are watching.
	streamSleep = 30 * time.Millisecond

	// idleSleep paces the loop while nothing consumes frames.
	idleSleep = 500 * time.Millisecond
)

// Publisher is the slice of the session hub the pipeline needs.
type Publisher interface {
	Publish(tag protocol.StreamTag, payload []byte)
	PublishEvent(command string, payload any)
}

// LiveAudio pairs the microphone stream with screen streaming.
type LiveAudio interface {
	Start() error
	Stop()
}

// Screen owns the screen capture loop. All frame state belongs to the loop
// goroutine; control methods only flip flags or swap the armed recording.
type Screen struct {
	logger   *slog.Logger
	grabber  capture.Grabber
	pub      Publisher
	live     LiveAudio // may be nil
	enc      *encoder.Encoder
	tempDir  string
	audioCfg audioio.Config

	newSource audio.SourceFactory
	sleep     func(time.Duration)

	streaming atomic.Bool
	lastFrame []byte

	recMu sync.Mutex
	rec   *recorder.Session
	tap   *audio.Tap
}

// NewScreen wires the screen pipeline. live may be nil when the agent has no
// microphone.
func NewScreen(grabber capture.Grabber, pub Publisher, live LiveAudio, enc *encoder.Encoder, audioCfg audioio.Config, tempDir string, logger *slog.Logger) *Screen {
	if logger == nil {
		logger = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Screen{
		logger:    logger,
		grabber:   grabber,
		pub:       pub,
		live:      live,
		enc:       enc,
		tempDir:   tempDir,
		audioCfg:  audioCfg,
		newSource: audioio.NewSource,
		sleep:     time.Sleep,
	}
}

// Run drives the capture loop until ctx is cancelled.
func (s *Screen) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.StopStreaming()
			s.CancelRecording()
			return
		default:
		}
		s.tick()
	}
}

// tick is one pass of the capture loop.
func (s *Screen) tick() {
	streaming := s.streaming.Load()

	if !streaming && !s.Recording() {
		// Idle: nothing consumes frames. Reset dedup state so the first
		// frame after wake always goes out.
		s.lastFrame = nil
		s.sleep(idleSleep)
		return
	}

	frame, err := s.grabber.Capture(jpegQuality, 1.0)
	if err != nil {
		s.logger.Warn("screen capture failed", "err", err)
		s.sleep(idleSleep)
		return
	}

	s.advanceRecording(frame)

	if streaming && !s.sameAsLast(frame) {
		s.pub.Publish(protocol.TagScreen, frame)
		s.lastFrame = frame
	}
	s.sleep(streamSleep)
}

// advanceRecording runs the frame-rate compensation step under the recording
// lock so a concurrent stop can never finalize mid-advance.
func (s *Screen) advanceRecording(frame []byte) {
	s.recMu.Lock()
	var expired bool
	if s.rec != nil {
		if err := s.rec.Advance(frame); err != nil {
			s.logger.Error("recording advance", "err", err)
		}
		expired = s.rec.Expired()
	}
	s.recMu.Unlock()

	if expired {
		s.finishRecording(true)
	}
}

// sameAsLast reports whether the frame matches the previously broadcast one.
// Length compare first; most screen changes alter the JPEG size.
func (s *Screen) sameAsLast(frame []byte) bool {
	return len(frame) == len(s.lastFrame) && bytes.Equal(frame, s.lastFrame)
}

// StartStreaming begins broadcasting frames and the paired live audio.
// No-op when already streaming.
func (s *Screen) StartStreaming() {
	if s.streaming.Swap(true) {
		return
	}
	if s.live != nil {
		if err := s.live.Start(); err != nil {
			s.logger.Warn("live audio unavailable", "err", err)
		}
	}
	s.logger.Info("screen streaming started")
	s.pub.PublishEvent(protocol.EvtLog, "Streaming started")
}

// StopStreaming stops the broadcast, finalizes an active recording, and
// stops the paired live audio. No-op when not streaming.
func (s *Screen) StopStreaming() {
	if !s.streaming.Swap(false) {
		return
	}
	s.finishRecording(true)
	if s.live != nil {
		s.live.Stop()
	}
	s.logger.Info("screen streaming stopped")
	s.pub.PublishEvent(protocol.EvtLog, "Streaming stopped")
}

// Streaming reports whether the broadcast is active.
func (s *Screen) Streaming() bool {
	return s.streaming.Load()
}

// CaptureOnce grabs a single frame outside the loop cadence.
func (s *Screen) CaptureOnce(quality int, scale float64) ([]byte, error) {
	return s.grabber.Capture(quality, scale)
}

// StartRecording arms a screen recording. Rejected while one is active.
func (s *Screen) StartRecording(duration time.Duration, includeAudio bool) error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.rec != nil {
		return fmt.Errorf("already recording screen")
	}

	rec, err := recorder.Start(recorder.Config{
		Source:       "screen",
		FPS:          RecordFPS,
		Duration:     duration,
		IncludeAudio: includeAudio,
		SampleRate:   s.audioCfg.SampleRate,
		Channels:     s.audioCfg.Channels,
		TempDir:      s.tempDir,
	})
	if err != nil {
		return err
	}

	if includeAudio {
		tap, err := audio.StartTap(s.audioCfg, s.newSource, rec.AudioSink(), s.logger)
		if err != nil {
			s.logger.Warn("recording continues without audio", "err", err)
		} else {
			s.tap = tap
		}
	}

	s.rec = rec
	s.logger.Info("screen recording started", "duration", duration, "audio", includeAudio)
	s.pub.PublishEvent(protocol.EvtLog, fmt.Sprintf("Screen recording started (%.0fs)", duration.Seconds()))
	return nil
}

// CancelRecording discards an active recording without encoding. No-op when
// nothing is armed.
func (s *Screen) CancelRecording() {
	s.finishRecording(false)
}

// Recording reports whether a recording is armed.
func (s *Screen) Recording() bool {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.rec != nil
}

// finishRecording detaches the armed session and either hands it to the
// encoder or discards it.
func (s *Screen) finishRecording(encode bool) {
	s.recMu.Lock()
	rec, tap := s.rec, s.tap
	s.rec, s.tap = nil, nil
	s.recMu.Unlock()

	if rec == nil {
		return
	}
	tap.Stop()

	art, err := rec.Finalize()
	if err != nil {
		s.logger.Error("finalize recording", "err", err)
	}

	if !encode || art.FramesWritten == 0 {
		if encode {
			s.logger.Warn("recording produced no frames, discarding")
		}
		rec.Cleanup()
		return
	}
	go s.encodeAndDeliver(rec, art)
}

// encodeAndDeliver runs the encoder job and broadcasts the finished clip.
// Scratch files are removed regardless of outcome.
func (s *Screen) encodeAndDeliver(rec *recorder.Session, art recorder.Artifacts) {
	defer rec.Cleanup()

	out := filepath.Join(s.tempDir, "screen_"+uuid.NewString()+".webm")
	defer os.Remove(out)

	job := s.enc.Encode(context.Background(), encoder.Input{
		FrameDir:     art.FrameDir,
		FramePattern: art.FramePattern,
		FPS:          art.FPS,
		AudioPath:    art.AudioPath,
		OutputPath:   out,
	})
	if _, err := job.Wait(context.Background()); err != nil {
		s.logger.Error("screen recording encode", "err", err)
		s.pub.PublishEvent(protocol.EvtLog, "Screen recording failed")
		return
	}

	data, err := os.ReadFile(out)
	if err != nil {
		s.logger.Error("read encoded recording", "err", err)
		s.pub.PublishEvent(protocol.EvtLog, "Screen recording failed")
		return
	}

	s.pub.PublishEvent(protocol.EvtScreenRecordFile, base64.StdEncoding.EncodeToString(data))
	s.pub.PublishEvent(protocol.EvtLog, fmt.Sprintf("Screen recording finished (%d frames)", art.FramesWritten))
	s.logger.Info("screen recording delivered", "frames", art.FramesWritten, "bytes", len(data))
}
