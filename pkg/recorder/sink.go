package recorder

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCMSink writes PCM16 chunks to a WAV file for the lifetime of a recording.
// It is fed from the audio capture goroutine while frames are written from
// the capture loop, so it carries its own lock.
type PCMSink struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	path    string
	rate    int
	chans   int
	samples int64
	closed  bool
}

// NewPCMSink creates a WAV sink at path.
func NewPCMSink(path string, sampleRate, channels int) (*PCMSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create audio sink: %w", err)
	}
	return &PCMSink{
		file:  f,
		enc:   wav.NewEncoder(f, sampleRate, 16, channels, 1),
		path:  path,
		rate:  sampleRate,
		chans: channels,
	}, nil
}

// Write appends a chunk of little-endian PCM16 bytes. Writes after Close are
// dropped silently; the capture callback may still fire while the recording
// is finalizing.
func (s *PCMSink) Write(pcm []byte) error {
	if len(pcm) < 2 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	ints := make([]int, len(pcm)/2)
	for i := range ints {
		ints[i] = int(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}

	buf := &audio.IntBuffer{
		Data:           ints,
		Format:         &audio.Format{NumChannels: s.chans, SampleRate: s.rate},
		SourceBitDepth: 16,
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("write audio sink: %w", err)
	}
	s.samples += int64(len(ints))
	return nil
}

// Close flushes the WAV header and closes the file. Safe to call twice.
func (s *PCMSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("close audio sink: %w", encErr)
	}
	return fileErr
}

// Path returns the WAV file path.
func (s *PCMSink) Path() string { return s.path }

// Duration returns the seconds of audio written so far.
func (s *PCMSink) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate == 0 || s.chans == 0 {
		return 0
	}
	return float64(s.samples) / float64(s.rate*s.chans)
}
