// Package recorder implements time-bounded capture-to-file recording with
// frame-rate compensation. Capture is irregular (OS scheduling, JPEG encode
// cost) while the output must play back at a fixed declared rate; the session
// aligns the two by dropping idle time and duplicating the last captured
// frame across gaps, so output duration always matches wall-clock duration.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FramePattern is the sequential frame file name format handed to the encoder.
const FramePattern = "frame_%04d.jpg"

// Clock supplies the current time. Injectable so tests can simulate capture
// jitter deterministically.
type Clock func() time.Time

// Config describes one recording.
type Config struct {
	// Source names the owning pipeline ("screen", "webcam") for temp file
	// naming and logs.
	Source string

	// FPS is the declared output frame rate.
	FPS int

	// Duration bounds the recording; the session self-terminates when it
	// elapses even if no explicit stop arrives.
	Duration time.Duration

	// IncludeAudio attaches a PCM sink for the recording's whole lifetime.
	IncludeAudio bool

	// SampleRate and Channels configure the PCM sink.
	SampleRate int
	Channels   int

	// TempDir overrides os.TempDir for frame and audio scratch files.
	TempDir string

	// Now overrides the wall clock (tests only).
	Now Clock
}

// Session is one armed recording. It is owned by a single capture loop: only
// that loop calls Advance and Expired, so frame state needs no lock. The PCM
// sink is the one concurrently-written part and locks internally.
type Session struct {
	cfg      Config
	now      Clock
	start    time.Time
	stopAt   time.Time
	interval time.Duration

	frameDir      string
	framesWritten int
	audio         *PCMSink
	finalized     bool
}

// Artifacts is what a finalized session hands to the encoder.
type Artifacts struct {
	FrameDir      string
	FramePattern  string
	AudioPath     string // empty when the recording has no audio track
	FramesWritten int
	FPS           int
}

// Start arms a new recording session: creates the frame scratch directory
// and, when requested, the PCM sink.
func Start(cfg Config) (*Session, error) {
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("recorder: fps must be positive, got %d", cfg.FPS)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("recorder: duration must be positive, got %v", cfg.Duration)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	frameDir := filepath.Join(tempDir, fmt.Sprintf("%s_%s", cfg.Source, uuid.NewString()))
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create frame dir: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		now:      now,
		frameDir: frameDir,
		interval: time.Second / time.Duration(cfg.FPS),
	}

	if cfg.IncludeAudio {
		rate := cfg.SampleRate
		if rate == 0 {
			rate = 16000
		}
		chans := cfg.Channels
		if chans == 0 {
			chans = 1
		}
		audioPath := filepath.Join(tempDir, fmt.Sprintf("%s_audio_%s.wav", cfg.Source, uuid.NewString()))
		sink, err := NewPCMSink(audioPath, rate, chans)
		if err != nil {
			os.RemoveAll(frameDir)
			return nil, err
		}
		s.audio = sink
	}

	start := now()
	s.start = start
	s.stopAt = start.Add(cfg.Duration)
	return s, nil
}

// Advance runs the frame-rate compensation step for one capture tick: it
// computes how many frames should exist by now and writes the given frame
// (the most recent capture) until the sequence catches up. Fast capture
// writes nothing and waits for real time; slow capture duplicates the frame.
func (s *Session) Advance(frame []byte) error {
	if s.finalized || len(frame) == 0 {
		return nil
	}

	elapsed := s.now().Sub(s.start)
	if elapsed > s.cfg.Duration {
		elapsed = s.cfg.Duration
	}
	expected := int(elapsed / s.interval)

	for s.framesWritten < expected {
		path := filepath.Join(s.frameDir, fmt.Sprintf(FramePattern, s.framesWritten))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return fmt.Errorf("recorder: write frame %d: %w", s.framesWritten, err)
		}
		s.framesWritten++
	}
	return nil
}

// Expired reports whether the declared duration has elapsed.
func (s *Session) Expired() bool {
	return !s.now().Before(s.stopAt)
}

// FramesWritten returns the number of frames persisted so far.
func (s *Session) FramesWritten() int { return s.framesWritten }

// AudioSink returns the PCM sink, or nil for a video-only recording. The
// audio capture loop writes chunks here for the session's whole lifetime,
// independent of the frame-duplication logic.
func (s *Session) AudioSink() *PCMSink { return s.audio }

// Finalize stops the session: the audio sink is flushed and closed, and the
// scratch artifacts are handed back for encoding. Calling Finalize again
// returns the same artifacts without side effects.
func (s *Session) Finalize() (Artifacts, error) {
	art := Artifacts{
		FrameDir:      s.frameDir,
		FramePattern:  FramePattern,
		FramesWritten: s.framesWritten,
		FPS:           s.cfg.FPS,
	}
	if s.audio != nil {
		art.AudioPath = s.audio.Path()
	}

	if s.finalized {
		return art, nil
	}
	s.finalized = true

	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			return art, err
		}
	}
	return art, nil
}

// Cleanup deletes the scratch frame directory and audio file. Called
// unconditionally after encoding, success or failure, to avoid disk leakage.
// Errors are returned for logging but are never fatal.
func (s *Session) Cleanup() error {
	var firstErr error
	if err := os.RemoveAll(s.frameDir); err != nil {
		firstErr = err
	}
	if s.audio != nil {
		s.audio.Close()
		if err := os.Remove(s.audio.Path()); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
