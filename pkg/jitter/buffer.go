// Package jitter provides a bounded FIFO of PCM samples that smooths
// irregular network arrival into a steady pull-based playback rate.
//
// The buffer trades a small, bounded amount of added latency for stutter-free
// playback. It does no resampling and no timestamp-based reordering; chunks
// are assumed to arrive in order, which the WebSocket transport guarantees.
package jitter

import (
	"sync"
	"time"
)

// DefaultMaxLatency bounds how much audio the buffer may hold. Anything past
// this is stale; old samples are dropped so playback stays close to live.
const DefaultMaxLatency = 500 * time.Millisecond

// Buffer is a bounded sample FIFO. Push appends network chunks as they
// arrive; Pull feeds a fixed-size renderer callback. Both are safe for
// concurrent use. Neither ever blocks.
type Buffer struct {
	mu      sync.Mutex
	samples []int16
	cap     int

	underruns      int64
	droppedSamples int64
}

// New creates a buffer capped at maxSamples. A cap of zero or less panics;
// use NewForRate for a duration-based cap.
func New(maxSamples int) *Buffer {
	if maxSamples <= 0 {
		panic("jitter: cap must be positive")
	}
	return &Buffer{cap: maxSamples}
}

// NewForRate creates a buffer whose cap holds maxLatency worth of audio at
// the given sample rate.
func NewForRate(sampleRate int, maxLatency time.Duration) *Buffer {
	return New(int(float64(sampleRate) * maxLatency.Seconds()))
}

// Push appends samples. If the buffer would exceed its cap, the oldest excess
// samples are dropped first: the newest audio always survives.
func (b *Buffer) Push(samples []int16) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	overflow := len(b.samples) + len(samples) - b.cap
	if overflow > 0 {
		if overflow >= len(b.samples) {
			b.droppedSamples += int64(len(b.samples))
			b.samples = b.samples[:0]
		} else {
			b.samples = b.samples[overflow:]
			b.droppedSamples += int64(overflow)
		}
	}
	if len(samples) > b.cap {
		// A single chunk larger than the whole buffer: keep its tail.
		b.droppedSamples += int64(len(samples) - b.cap)
		samples = samples[len(samples)-b.cap:]
	}
	b.samples = append(b.samples, samples...)
}

// Pull returns exactly n samples from the front of the buffer. On underflow
// it returns what exists padded with silence and counts one underrun. It
// never blocks waiting for data.
func (b *Buffer) Pull(n int) []int16 {
	out := make([]int16, n)
	if n == 0 {
		return out
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	have := len(b.samples)
	if have >= n {
		copy(out, b.samples[:n])
		b.samples = b.samples[:copy(b.samples, b.samples[n:])]
		return out
	}

	copy(out, b.samples)
	b.samples = b.samples[:0]
	b.underruns++
	return out
}

// Clear empties the buffer. Used on stream stop/restart so stale audio is
// never played.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Cap returns the maximum number of samples the buffer will hold.
func (b *Buffer) Cap() int {
	return b.cap
}

// Stats reports playback health counters.
type Stats struct {
	Buffered       int   `json:"buffered"`
	Underruns      int64 `json:"underruns"`
	DroppedSamples int64 `json:"dropped_samples"`
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Buffered:       len(b.samples),
		Underruns:      b.underruns,
		DroppedSamples: b.droppedSamples,
	}
}
