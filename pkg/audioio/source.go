package audioio

import (
	"context"
	"io"
)

// AudioChunk is one buffer of PCM16 little-endian samples. Interleaved when
// Channels > 1.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as raw little-endian PCM16.
func (c *AudioChunk) Bytes() []byte {
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// FromBytes populates the chunk from raw little-endian PCM16.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = make([]int16, len(data)/2)
	for i := range c.Samples {
		c.Samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
}

// Duration returns the chunk length in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or other input device. Start makes
// chunks available through Read and Stream; Stop may be called repeatedly;
// Read returns io.EOF once the source is stopped. Close releases the device
// permanently.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Read(ctx context.Context) (AudioChunk, error)
	Stream() <-chan AudioChunk

	// Config returns the source's audio configuration.
	Config() Config

	// Name returns the backend name ("malgo", "mock").
	Name() string

	io.Closer
}

// SourceStats are capture health counters.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
