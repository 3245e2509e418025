package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource generates synthetic audio on a wall-clock ticker so pipelines
// can be tested without a microphone. By default it produces silence; a sine
// tone can be requested for tests that need non-zero samples.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64

	// tone generator state
	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the source emit a sine tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a synthetic capture source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating chunks at the configured buffer cadence. A second
// Start while running is a no-op.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)
	go m.generate(ctx)

	m.logger.Debug("mock capture started", "sample_rate", m.cfg.SampleRate)
	return nil
}

func (m *MockSource) generate(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			chunk := m.nextChunk()
			select {
			case m.streamCh <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				// Consumer is behind; drop like a real device would.
			}
		}
	}
}

// nextChunk produces one buffer of silence or tone.
func (m *MockSource) nextChunk() AudioChunk {
	n := m.cfg.BufferSize()
	samples := make([]int16, n*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < n; i++ {
			v := int16(m.amplitude * 32767 *
				math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts generation. Safe to call multiple times.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	close(m.streamCh)
	return nil
}

// Read returns the next generated chunk, blocking until one is available.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-m.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the generated chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close stops generation permanently.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink accepts chunks without touching hardware. Written audio is
// retained until Flush or Clear so tests can assert on buffering behavior.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	buffer  []AudioChunk

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// NewMockSink creates a synthetic playback sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start begins accepting writes.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts acceptance. Safe to call multiple times.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write buffers one chunk. Fails when the sink is stopped or closed.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	m.buffer = append(m.buffer, chunk)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush discards the buffered audio after a token delay standing in for
// playback time.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	buffered := len(m.buffer) > 0
	m.buffer = m.buffer[:0]
	m.mu.Unlock()

	if buffered {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Clear discards buffered audio immediately.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	m.buffer = m.buffer[:0]
	m.mu.Unlock()
	return nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close stops the sink permanently.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	var buffered int64
	for _, chunk := range m.buffer {
		buffered += int64(len(chunk.Samples))
	}
	m.mu.Unlock()

	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Running:         running,
		Backend:         "mock",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*MockSink)(nil)
