// Package config provides environment-based configuration helpers for the
// remotedesk binaries.
package config

import (
	"os"
	"time"
)

// Defaults for the agent.
const (
	DefaultListenAddr = ":8090"
	DefaultFFmpegPath = "ffmpeg"
	DefaultScreenFPS  = 24
	DefaultWebcamFPS  = 15

	// DefaultAudioRate is the PCM sample rate used by every audio channel.
	DefaultAudioRate = 16000

	// DefaultChunkDuration is the audio capture buffer size. Small enough
	// for low latency, large enough to keep the chunk rate reasonable.
	DefaultChunkDuration = 50 * time.Millisecond

	// MaxAudioRecordSeconds caps RECORD_AUDIO so a forgotten recording
	// cannot fill the disk.
	MaxAudioRecordSeconds = 60
)

// ListenAddr returns the agent bind address from LISTEN_ADDR.
func ListenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	return DefaultListenAddr
}

// FFmpegPath returns the encoder binary path from FFMPEG_PATH.
func FFmpegPath() string {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		return p
	}
	return DefaultFFmpegPath
}

// TempDir returns the scratch directory for recordings from REMOTEDESK_TMP,
// falling back to the OS default.
func TempDir() string {
	if d := os.Getenv("REMOTEDESK_TMP"); d != "" {
		return d
	}
	return os.TempDir()
}

// SessionPassword returns a fixed OTP from REMOTEDESK_OTP, or empty when one
// should be generated per run.
func SessionPassword() string {
	return os.Getenv("REMOTEDESK_OTP")
}

// LogLevel returns the log level from LOG_LEVEL, defaulting to info.
func LogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}
