package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dvhoang/go-remotedesk/internal/log"
	"github.com/dvhoang/go-remotedesk/pkg/protocol"
	"github.com/dvhoang/go-remotedesk/pkg/viewer"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8090/ws", "agent WebSocket URL")
	otp := flag.String("otp", "", "session password printed by the agent")
	outDir := flag.String("out", "", "directory to dump received frames (empty discards)")
	withStream := flag.Bool("stream", true, "request the screen stream")
	withWebcam := flag.Bool("webcam", false, "request the webcam stream")
	withAudio := flag.Bool("audio", false, "play live audio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	if *otp == "" {
		fmt.Fprintln(os.Stderr, "missing -otp (the agent prints it at startup)")
		os.Exit(2)
	}
	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			logger.Error("create output dir", "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c := viewer.New(*url, *otp, logger)

	var screenSeq, webcamSeq atomic.Uint64
	c.OnScreenFrame = func(jpeg []byte) {
		dumpFrame(*outDir, "screen", screenSeq.Add(1), jpeg, logger)
	}
	c.OnWebcamFrame = func(jpeg []byte) {
		dumpFrame(*outDir, "webcam", webcamSeq.Add(1), jpeg, logger)
	}
	c.OnEvent = func(ev protocol.Event) {
		logger.Info("event", "command", ev.Command, "bytes", len(ev.Payload))
	}

	if err := c.Connect(ctx); err != nil {
		logger.Error("connect", "err", err)
		os.Exit(1)
	}
	defer c.Close()

	if *withStream {
		c.Send(protocol.CmdStartStream, "")
	}
	if *withWebcam {
		c.Send(protocol.CmdStartWebcam, "")
	}
	if *withAudio {
		if err := c.StartAudio(); err != nil {
			logger.Warn("audio playback unavailable", "err", err)
		}
	}

	// Periodic RTT probe; stats land in the debug log.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Send(protocol.CmdStopStream, "")
			logger.Info("goodbye")
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				logger.Error("connection lost", "err", err)
				return
			}
			logger.Debug("link", "rtt", c.RTT(), "audio_delay", c.AudioDelay(),
				"buffered", c.Buffer().Len())
		}
	}
}

func dumpFrame(dir, kind string, seq uint64, jpeg []byte, logger *slog.Logger) {
	if dir == "" {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%06d.jpg", kind, seq))
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		logger.Warn("write frame", "err", err)
	}
}
