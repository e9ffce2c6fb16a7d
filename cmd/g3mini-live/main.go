package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/config"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/live"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/media"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/metrics"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/server"
	"github.com/AB-DALRAHM-AN/G3mini-live/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "g3mini-live"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("model", cfg.Live.Model),
		slog.String("voice", cfg.Live.VoiceName),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("playback_sample_rate", cfg.Audio.PlaybackSampleRate),
		slog.Bool("video_enabled", cfg.Video.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Initialize the process-level audio device context
	devices, err := media.OpenDevices(logger)
	if err != nil {
		logger.Error("Failed to initialize audio devices", slog.String("error", err.Error()))
		os.Exit(1)
	}

	speaker, err := media.NewSpeaker(cfg.Audio.PlaybackSampleRate, logger)
	if err != nil {
		logger.Error("Failed to initialize speaker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Wire the controller: device factories, client factory, transcript sink
	deps := session.Deps{
		OpenMic: func() (session.MicSource, error) {
			return devices.OpenMic(cfg.Audio.SampleRate)
		},
		NewClient: func(voice protocol.VoiceConfig, callbacks live.Callbacks) (session.LiveClient, error) {
			return live.NewClient(live.ClientConfig{
				Endpoint:       cfg.Live.Endpoint,
				APIKey:         cfg.Live.APIKey,
				ConnectTimeout: cfg.Live.GetConnectTimeout(),
			}, voice, speaker, callbacks, logger)
		},
		OnText: func(text string) {
			fmt.Print(text)
		},
	}
	if cfg.Video.Enabled {
		deps.OpenCamera = func() (session.CameraSource, error) {
			return media.OpenCamera(media.CameraConfig{
				Device: cfg.Video.Device,
				Width:  cfg.Video.Width,
				Height: cfg.Video.Height,
				FPS:    cfg.Video.FPS,
			}, logger)
		}
	}

	controller, err := session.NewController(session.Config{
		SampleRate:    cfg.Audio.SampleRate,
		FrameSamples:  cfg.Audio.FrameSamples,
		LevelGain:     cfg.Audio.LevelGain,
		FrameInterval: cfg.Video.GetFrameInterval(),
		JPEGQuality:   cfg.Video.JPEGQuality,
		DumpDir:       cfg.Audio.DumpDir,
	}, cfg.Live.Voice(), deps, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session controller", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, controller, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run the interactive console on its own goroutine
	quit := make(chan struct{})
	go func() {
		defer close(quit)
		runConsole(controller, os.Stdin, os.Stdout)
	}()

	logger.Info("Service started successfully")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-quit:
		logger.Info("Console session ended")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the running session, then the playback and capture devices
	if err := controller.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}
	if err := speaker.Close(); err != nil {
		logger.Error("Error closing speaker", slog.String("error", err.Error()))
	}
	if err := devices.Close(); err != nil {
		logger.Error("Error closing audio devices", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// runConsole reads commands from in until EOF or quit
func runConsole(controller *session.Controller, in *os.File, out *os.File) {
	fmt.Fprintln(out, "Commands: start, stop, voice <name>, model <name>, apply, status, quit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "start":
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := controller.Start(ctx)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "start failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session started")

		case "stop":
			if err := controller.Stop(); err != nil {
				fmt.Fprintf(out, "stop failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session stopped")

		case "voice":
			if arg == "" {
				fmt.Fprintln(out, "usage: voice <name>")
				continue
			}
			controller.StageVoiceName(arg)
			fmt.Fprintln(out, "voice staged; run apply to commit")

		case "model":
			if arg == "" {
				fmt.Fprintln(out, "usage: model <name>")
				continue
			}
			controller.StageModel(arg)
			fmt.Fprintln(out, "model staged; run apply to commit")

		case "apply":
			err := controller.ApplyVoice()
			switch {
			case errors.Is(err, live.ErrReconnectRequired):
				fmt.Fprintln(out, "applied; stop and start the session for the change to take effect")
			case errors.Is(err, session.ErrNothingStaged):
				fmt.Fprintln(out, "nothing staged")
			case err != nil:
				fmt.Fprintf(out, "apply failed: %v\n", err)
			default:
				fmt.Fprintln(out, "applied")
			}

		case "status":
			printStatus(out, controller.Snapshot())

		case "quit", "exit":
			return

		default:
			fmt.Fprintln(out, "commands: start, stop, voice <name>, model <name>, apply, status, quit")
		}
	}
}

func printStatus(out *os.File, status session.Status) {
	state := "idle"
	switch {
	case status.Running && status.Speaking:
		state = "speaking"
	case status.Running && status.Ready:
		state = "listening"
	case status.Running:
		state = "connecting"
	}
	fmt.Fprintf(out, "state: %s\n", state)
	fmt.Fprintf(out, "voice: %s (%s)\n", status.Voice.VoiceName, status.Voice.Model)
	if status.StagedVoice != nil {
		fmt.Fprintf(out, "staged: %s (%s)\n", status.StagedVoice.VoiceName, status.StagedVoice.Model)
	}
	if status.Running {
		fmt.Fprintf(out, "levels: in=%d out=%d\n", status.InputLevel, status.OutputLevel)
		fmt.Fprintf(out, "frames: audio=%d video=%d\n", status.FramesSent, status.VideoFrames)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
