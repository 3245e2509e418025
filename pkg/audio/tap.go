package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/recorder"
)

// Tap feeds microphone chunks into a recording's PCM sink. It owns its own
// capture source so the live stream and an armed recording never contend for
// one device handle.
type Tap struct {
	src    audioio.Source
	cancel context.CancelFunc
	done   chan struct{}
}

// StartTap opens a capture source and streams it into sink until Stop.
func StartTap(cfg audioio.Config, factory SourceFactory, sink *recorder.PCMSink, logger *slog.Logger) (*Tap, error) {
	if factory == nil {
		factory = audioio.NewSource
	}
	if logger == nil {
		logger = slog.Default()
	}

	src, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		src.Close()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	t := &Tap{src: src, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		for chunk := range src.Stream() {
			if err := sink.Write(chunk.Bytes()); err != nil {
				logger.Warn("audio tap write failed", "err", err)
				return
			}
		}
	}()
	return t, nil
}

// Stop halts the tap. The sink itself is closed by the recording session.
func (t *Tap) Stop() {
	if t == nil {
		return
	}
	t.cancel()
	t.src.Stop()
	<-t.done
	t.src.Close()
}
