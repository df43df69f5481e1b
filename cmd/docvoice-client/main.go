package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/ent0n29/docvoice/internal/capture"
	"github.com/ent0n29/docvoice/internal/client"
	"github.com/ent0n29/docvoice/internal/logging"
	"github.com/ent0n29/docvoice/internal/playback"
	"github.com/ent0n29/docvoice/internal/transcript"
)

type options struct {
	baseURL  string
	inPath   string
	outPath  string
	realtime bool
	duration time.Duration
	logLevel string
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "docvoice-client: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		color.Red("docvoice-client: %v", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("docvoice-client", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "docvoice server base URL")
	fs.StringVar(&cfg.inPath, "in", "", "24kHz PCM16 WAV file used as the microphone")
	fs.StringVar(&cfg.outPath, "out", "assistant.wav", "WAV file receiving the assistant's audio")
	fs.BoolVar(&cfg.realtime, "realtime", true, "pace microphone and speaker at real time")
	fs.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to keep the conversation open")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.inPath) == "" {
		return options{}, fmt.Errorf("in is required")
	}
	if strings.TrimSpace(cfg.outPath) == "" {
		return options{}, fmt.Errorf("out is required")
	}
	if cfg.duration < time.Second {
		return options{}, fmt.Errorf("duration must be >= 1s")
	}
	return cfg, nil
}

func run(cfg options) error {
	logger := logging.New(logging.Config{Level: cfg.logLevel})
	defer func() { _ = logger.Sync() }()

	dialer, err := client.NewChannelDialer(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	ctrl := client.New(client.Deps{
		Capture: capture.New(capture.NewWAVDevice(cfg.inPath, cfg.realtime), capture.Options{Logger: logger}),
		NewPlayback: func() client.Playback {
			return playback.NewQueue(playback.NewWAVDevice(cfg.outPath, cfg.realtime), logger)
		},
		Credentials: client.NewCredentialFetcher(cfg.baseURL, &http.Client{Timeout: 15 * time.Second}),
		Dialer:      dialer,
		Logger:      logger,
	})
	defer ctrl.Close()

	var (
		stateMu sync.Mutex
		last    client.State
	)
	ctrl.Subscribe(func(s client.Snapshot) {
		stateMu.Lock()
		defer stateMu.Unlock()
		if s.State == last {
			return
		}
		last = s.State
		if s.State == client.StateError {
			color.Red("state: %s (%s)", s.State, s.Error)
			return
		}
		color.Yellow("state: %s", s.State)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 20*time.Second)
	err = ctrl.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	color.Cyan("connected to %s; streaming %s for up to %s", cfg.baseURL, cfg.inPath, cfg.duration)

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	snap := ctrl.Snapshot()
	ctrl.Disconnect()
	renderTranscript(os.Stdout, snap.Transcript)
	if snap.State == client.StateError {
		return fmt.Errorf("conversation ended with error: %s", snap.Error)
	}
	logger.Info("assistant audio written", zap.String("path", cfg.outPath))
	return nil
}

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
)

func renderTranscript(w io.Writer, s transcript.State) {
	for _, m := range s.Messages {
		switch m.Role {
		case transcript.RoleUser:
			userColor.Fprintf(w, "you: %s\n", m.Content)
		default:
			assistantColor.Fprintf(w, "assistant: %s\n", m.Content)
		}
	}
}
