package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker or other output device. Write queues a chunk
// after Start; Flush waits for the queue to drain; Clear discards it to
// interrupt playback mid-stream. Stop may be called repeatedly; Close
// releases the device permanently.
type Sink interface {
	Start(ctx context.Context) error
	Stop() error
	Write(ctx context.Context, chunk AudioChunk) error
	Flush(ctx context.Context) error
	Clear() error

	// Config returns the sink's audio configuration.
	Config() Config

	// Name returns the backend name ("malgo", "mock").
	Name() string

	io.Closer
}

// SinkStats are playback health counters.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Underruns       int64  `json:"underruns"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
