package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures microphone audio through miniaudio. The device
// callback accumulates PCM16 bytes until a full chunk is available, then
// hands it to the stream channel without blocking.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	pending []byte

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// newMalgoSource initializes the miniaudio context for capture.
func newMalgoSource(cfg Config, logger *slog.Logger) (*MalgoSource, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	return &MalgoSource{
		cfg:      cfg,
		logger:   logger,
		malgoCtx: mctx,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start opens the capture device and begins delivering chunks.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	chunkBytes := s.cfg.BufferBytes()
	s.pending = s.pending[:0]
	s.streamCh = make(chan AudioChunk, 10)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.onCapture(input, chunkBytes)
		},
	}

	device, err := malgo.InitDevice(s.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	s.device = device
	s.running = true

	s.logger.Info("audio capture started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"chunk_ms", s.cfg.BufferDuration.Milliseconds(),
	)
	return nil
}

// onCapture runs on the miniaudio realtime thread: no blocking, no logging.
func (s *MalgoSource) onCapture(input []byte, chunkBytes int) {
	s.pending = append(s.pending, input...)
	for len(s.pending) >= chunkBytes {
		var chunk AudioChunk
		chunk.FromBytes(s.pending[:chunkBytes], s.cfg.SampleRate, s.cfg.Channels)
		s.pending = s.pending[:copy(s.pending, s.pending[chunkBytes:])]

		select {
		case s.streamCh <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture. Safe to call multiple times.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.device.Stop()
	s.device.Uninit()
	s.device = nil
	close(s.streamCh)

	s.logger.Info("audio capture stopped",
		"chunks", s.chunksRead.Load(),
		"overruns", s.overruns.Load(),
	)
	return nil
}

// Read returns the next captured chunk, blocking until one is available.
func (s *MalgoSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the captured chunk channel.
func (s *MalgoSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Config returns the audio configuration.
func (s *MalgoSource) Config() Config {
	return s.cfg
}

// Name returns "malgo".
func (s *MalgoSource) Name() string {
	return "malgo"
}

// Close stops capture and frees the miniaudio context.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return nil
}

// Stats returns source statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "malgo",
	}
}

var _ SourceWithStats = (*MalgoSource)(nil)

// MalgoSink plays PCM16 audio through miniaudio. Write appends samples to an
// internal queue; the playback callback drains it, zero-filling on underrun.
type MalgoSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	bufMu   sync.Mutex
	buffer  []byte
	drained chan struct{}

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// newMalgoSink initializes the miniaudio context for playback.
func newMalgoSink(cfg Config, logger *slog.Logger) (*MalgoSink, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	return &MalgoSink{
		cfg:      cfg,
		logger:   logger,
		malgoCtx: mctx,
		drained:  make(chan struct{}, 1),
	}, nil
}

// Start opens the playback device.
func (s *MalgoSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			s.onPlayback(output)
		},
	}

	device, err := malgo.InitDevice(s.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	s.device = device
	s.running = true

	s.logger.Info("audio playback started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

// onPlayback runs on the miniaudio realtime thread: no blocking, no logging.
func (s *MalgoSink) onPlayback(output []byte) {
	s.bufMu.Lock()
	n := copy(output, s.buffer)
	s.buffer = s.buffer[:copy(s.buffer, s.buffer[n:])]
	empty := len(s.buffer) == 0
	s.bufMu.Unlock()

	if n < len(output) {
		for i := n; i < len(output); i++ {
			output[i] = 0
		}
		s.underruns.Add(1)
	}
	if empty {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// Stop halts playback. Safe to call multiple times.
func (s *MalgoSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.device.Stop()
	s.device.Uninit()
	s.device = nil

	s.logger.Info("audio playback stopped",
		"chunks", s.chunksWritten.Load(),
		"underruns", s.underruns.Load(),
	)
	return nil
}

// Write queues a chunk for playback. It never blocks on the device.
func (s *MalgoSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	if s.closed || !s.running {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	s.mu.Unlock()

	s.bufMu.Lock()
	s.buffer = append(s.buffer, chunk.Bytes()...)
	s.bufMu.Unlock()

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush waits until the playback queue is empty.
func (s *MalgoSink) Flush(ctx context.Context) error {
	for {
		s.bufMu.Lock()
		empty := len(s.buffer) == 0
		s.bufMu.Unlock()
		if empty {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.drained:
		}
	}
}

// Clear discards all queued audio immediately.
func (s *MalgoSink) Clear() error {
	s.bufMu.Lock()
	s.buffer = s.buffer[:0]
	s.bufMu.Unlock()
	return nil
}

// Config returns the audio configuration.
func (s *MalgoSink) Config() Config {
	return s.cfg
}

// Name returns "malgo".
func (s *MalgoSink) Name() string {
	return "malgo"
}

// Close stops playback and frees the miniaudio context.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return nil
}

// Stats returns sink statistics.
func (s *MalgoSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.bufMu.Lock()
	buffered := int64(len(s.buffer) / 2)
	s.bufMu.Unlock()

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         "malgo",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*MalgoSink)(nil)
