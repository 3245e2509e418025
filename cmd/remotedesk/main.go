package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dvhoang/go-remotedesk/internal/config"
	"github.com/dvhoang/go-remotedesk/internal/log"
	"github.com/dvhoang/go-remotedesk/pkg/audio"
	"github.com/dvhoang/go-remotedesk/pkg/audioio"
	"github.com/dvhoang/go-remotedesk/pkg/capture"
	"github.com/dvhoang/go-remotedesk/pkg/encoder"
	"github.com/dvhoang/go-remotedesk/pkg/files"
	"github.com/dvhoang/go-remotedesk/pkg/hub"
	"github.com/dvhoang/go-remotedesk/pkg/input"
	"github.com/dvhoang/go-remotedesk/pkg/router"
	"github.com/dvhoang/go-remotedesk/pkg/stream"
	"github.com/dvhoang/go-remotedesk/pkg/sysops"
	"github.com/dvhoang/go-remotedesk/pkg/webcam"
)

func main() {
	addr := flag.String("addr", config.ListenAddr(), "HTTP listen address")
	ffmpegPath := flag.String("ffmpeg", config.FFmpegPath(), "ffmpeg binary path")
	otpFlag := flag.String("otp", config.SessionPassword(), "fixed session password (empty generates one)")
	logLevel := flag.String("log-level", config.LogLevel(), "log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	otp := *otpFlag
	if otp == "" {
		var err error
		otp, err = generateOTP()
		if err != nil {
			logger.Error("generate session password", "err", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Session password: %s\n", otp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	audioCfg := audioio.DefaultConfig()
	tempDir := config.TempDir()
	enc := encoder.New(*ffmpegPath)

	h := hub.New(logger.With("component", "hub"))

	grabber, err := capture.NewScreen()
	if err != nil {
		logger.Error("screen capture unavailable", "err", err)
		os.Exit(1)
	}

	live := audio.NewStreamer(h, audioCfg, logger.With("component", "audio"))
	clip := audio.NewRecorder(h, audioCfg, tempDir, logger.With("component", "audio"))
	screen := stream.NewScreen(grabber, h, live, enc, audioCfg, tempDir, logger.With("component", "screen"))
	cam := webcam.New(h, enc, audioCfg, tempDir, logger.With("component", "webcam"))

	r := router.New(h, otp, router.Deps{
		Screen: screen,
		Webcam: cam,
		Live:   live,
		Clip:   clip,
		Sys:    sysops.New(logger.With("component", "sysops")),
		Files:  files.New(logger.With("component", "files")),
		Input:  input.New(logger.With("component", "input")),
	}, logger.With("component", "router"))
	h.OnPacket(r.Handle)

	// Nobody watching: stop the capture pipelines, recordings included.
	h.OnEmpty(func() {
		screen.StopStreaming()
		cam.Stop()
		live.Stop()
	})

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "remotedesk",
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
	h.RegisterRoutes(app)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run()
		return nil
	})
	g.Go(func() error {
		screen.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", "addr", *addr)
		return app.Listen(*addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		cam.Stop()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

// generateOTP returns a 6-digit one-time session password.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
