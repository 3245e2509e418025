// Package audio owns the agent's microphone pipelines: the live PCM stream
// to viewers and bounded RECORD_AUDIO captures to WAV.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
)

// Publisher is the slice of the session hub the audio pipelines need.
type Publisher interface {
	PublishRaw(frame []byte)
	PublishEvent(command string, payload any)
}

// SourceFactory opens an audio capture source. Injectable so tests can use
// the mock backend.
type SourceFactory func(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error)

// Streamer captures microphone audio and publishes timestamped live-audio
// frames. One Streamer per agent; Start and Stop are idempotent.
type Streamer struct {
	logger    *slog.Logger
	pub       Publisher
	cfg       audioio.Config
	newSource SourceFactory
	now       func() time.Time

	mu     sync.Mutex
	source audioio.Source
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamer creates the live-audio streamer.
func NewStreamer(pub Publisher, cfg audioio.Config, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		logger:    logger,
		pub:       pub,
		cfg:       cfg,
		newSource: audioio.NewSource,
		now:       time.Now,
	}
}

// Start opens the microphone and begins publishing live-audio frames. A
// second Start while running is a no-op.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return nil
	}

	src, err := s.newSource(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		src.Close()
		return fmt.Errorf("start microphone: %w", err)
	}

	s.source = src
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, src, s.done)

	s.logger.Info("live audio started", "backend", src.Name())
	return nil
}

// loop forwards captured chunks to viewers until the source stops.
func (s *Streamer) loop(ctx context.Context, src audioio.Source, done chan struct{}) {
	defer close(done)

	wireRate := s.cfg.SampleRate
	for {
		chunk, err := src.Read(ctx)
		if err != nil {
			return
		}

		samples := chunk.Samples
		if chunk.Channels == 2 {
			samples = audioio.StereoToMono(samples)
		}
		if chunk.SampleRate != wireRate {
			samples = audioio.Resample(samples, chunk.SampleRate, wireRate)
		}

		ts := uint32(s.now().UnixMilli())
		s.pub.PublishRaw(protocol.EncodeLiveAudio(ts, audioio.SamplesToBytes(samples)))
	}
}

// Stop halts the live stream. Safe to call when not running.
func (s *Streamer) Stop() {
	s.mu.Lock()
	src, cancel, done := s.source, s.cancel, s.done
	s.source, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if src == nil {
		return
	}

	cancel()
	src.Stop()
	<-done
	src.Close()
	s.logger.Info("live audio stopped")
}

// Streaming reports whether the live stream is running.
func (s *Streamer) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}
