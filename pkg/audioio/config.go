// Package audioio provides cross-platform audio capture and playback for the
// agent's microphone streams and the viewer's speaker output.
//
// Backends:
//   - malgo (miniaudio): production capture/playback on Linux, macOS, Windows
//   - mock: tests without hardware
package audioio

import (
	"fmt"
	"time"
)

// Backend selects the audio device implementation.
type Backend string

const (
	// BackendAuto picks the best available backend.
	BackendAuto Backend = "auto"
	// BackendMalgo uses the miniaudio bindings.
	BackendMalgo Backend = "malgo"
	// BackendMock generates synthetic audio for tests.
	BackendMock Backend = "mock"
)

// Config holds audio device configuration. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Backend Backend `json:"backend"`

	// SampleRate in Hz. Every PCM channel on the wire runs at 16000.
	SampleRate int `json:"sample_rate"`

	// Channels per frame. The wire format is mono.
	Channels int `json:"channels"`

	// BufferDuration is the capture/playback chunk size. 50ms keeps latency
	// low without a pathological chunk rate.
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is a platform-specific device identifier; empty selects the
	// system default.
	Device string `json:"device"`
}

// DefaultConfig returns the wire-format configuration: 16 kHz mono in 50 ms
// chunks.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 50 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the samples per chunk per channel.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the chunk size in bytes across all channels.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
