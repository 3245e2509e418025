// Package encoder muxes a sequence of still frames plus an optional WAV
// track into a single playable container by invoking ffmpeg once per
// completed recording. Invocation is modeled as an asynchronous job the
// caller awaits, not a fire-and-forget side effect.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// stderrExcerptLen bounds how much ffmpeg stderr ends up in error messages.
const stderrExcerptLen = 500

// Input describes one encode.
type Input struct {
	// FrameDir holds sequentially numbered frame files.
	FrameDir string

	// FramePattern is the printf-style frame file name format, e.g.
	// "frame_%04d.jpg".
	FramePattern string

	// FPS is the declared input frame rate.
	FPS int

	// AudioPath is an optional WAV track; the mux uses the shorter of the
	// two tracks ("-shortest").
	AudioPath string

	// OutputPath is the container file to produce (.webm).
	OutputPath string
}

// Result is the outcome of a finished job.
type Result struct {
	OutputPath string
}

// Job is one in-flight encode.
type Job struct {
	done   chan struct{}
	result Result
	err    error
}

// Wait blocks until the encode finishes or ctx is cancelled.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-j.done:
		return j.result, j.err
	}
}

// Encoder invokes ffmpeg as a subprocess.
type Encoder struct {
	// Binary is the ffmpeg executable; defaults to "ffmpeg" on PATH.
	Binary string
}

// New creates an encoder using the given ffmpeg binary, or "ffmpeg" when
// empty.
func New(binary string) *Encoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Encoder{Binary: binary}
}

// Args builds the ffmpeg argument list for an input. VP9 + Opus in WebM,
// tuned for realtime encoding; matches what the viewers expect to download.
func (e *Encoder) Args(in Input) []string {
	args := []string{
		"-framerate", strconv.Itoa(in.FPS),
		"-i", filepath.Join(in.FrameDir, in.FramePattern),
	}
	if in.AudioPath != "" {
		args = append(args, "-i", in.AudioPath)
	}
	args = append(args,
		"-c:v", "libvpx-vp9",
		"-crf", "30",
		"-b:v", "0",
		"-deadline", "realtime",
		"-cpu-used", "4",
	)
	if in.AudioPath != "" {
		args = append(args, "-c:a", "libopus", "-b:a", "128k", "-shortest")
	} else {
		args = append(args, "-an")
	}
	return append(args, "-y", in.OutputPath)
}

// Encode starts an asynchronous encode. The subprocess runs until completion
// or ctx cancellation; the returned job reports the outcome via Wait.
func (e *Encoder) Encode(ctx context.Context, in Input) *Job {
	job := &Job{done: make(chan struct{})}

	go func() {
		defer close(job.done)
		job.result, job.err = e.run(ctx, in)
	}()

	return job
}

func (e *Encoder) run(ctx context.Context, in Input) (Result, error) {
	if in.FPS <= 0 {
		return Result{}, fmt.Errorf("encoder: fps must be positive, got %d", in.FPS)
	}
	if in.OutputPath == "" {
		return Result{}, fmt.Errorf("encoder: output path required")
	}

	cmd := exec.CommandContext(ctx, e.Binary, e.Args(in)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		excerpt := stderr.String()
		if len(excerpt) > stderrExcerptLen {
			excerpt = excerpt[:stderrExcerptLen]
		}
		return Result{}, fmt.Errorf("encoder: ffmpeg failed: %w: %s", err, excerpt)
	}

	return Result{OutputPath: in.OutputPath}, nil
}
