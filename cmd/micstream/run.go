package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/petems/micstream/internal/app"
	"github.com/petems/micstream/internal/audio"
	"github.com/petems/micstream/internal/config"
	"github.com/petems/micstream/internal/device"
	"github.com/petems/micstream/internal/feature"
	"github.com/petems/micstream/internal/logging"
	"github.com/petems/micstream/internal/sink"
	"github.com/rs/zerolog"
)

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, logging.New(), fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}

func openPlatform(cfg *config.Config, log zerolog.Logger) (audio.Platform, error) {
	switch cfg.Audio.Backend {
	case config.BackendMalgo:
		return audio.NewMalgo(cfg.Audio, log)
	default:
		return audio.NewPortAudio(cfg.Audio, log)
	}
}

// newNotifier prefers hotplug events from the device directory and falls
// back to polling the platform.
func newNotifier(cfg *config.Config, platform audio.Enumerator, log zerolog.Logger) device.Notifier {
	if path := cfg.Watcher.Path; path != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return device.NewFSNotifier(path, log)
		}
	}
	return device.NewPollNotifier(platform, cfg.Watcher.PollInterval, log)
}

func listDevices(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	platform, err := openPlatform(cfg, log)
	if err != nil {
		return err
	}
	defer platform.Close()

	a, err := app.New(app.Config{Platform: platform, Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	if _, err := a.UpdateDeviceList(ctx); err != nil {
		return err
	}
	printDevices(os.Stdout, a)
	return nil
}

func printDevices(w io.Writer, a *app.App) {
	def, _ := a.DefaultDevice()
	sel, _ := a.SelectedDevice()
	for _, d := range a.Devices() {
		mark := " "
		if d.Equal(sel) {
			mark = ">"
		}
		suffix := ""
		if d.Equal(def) {
			suffix = " (default)"
		}
		fmt.Fprintf(w, "%s %-40s %s%s\n", mark, d.ID, d.Label, suffix)
	}
}

func runCapture(parent context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if format != "" {
		cfg.Capture.Formats = []string{format}
	}
	if wsURL != "" {
		cfg.Sink.WebSocketURL = wsURL
	}
	if deviceID != "" {
		cfg.Audio.DeviceID = deviceID
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	platform, err := openPlatform(cfg, log)
	if err != nil {
		return err
	}
	defer platform.Close()

	var ws *sink.WebSocket
	if cfg.Sink.WebSocketURL != "" {
		if ws, err = sink.DialWebSocket(cfg.Sink.WebSocketURL, log); err != nil {
			return err
		}
		defer ws.Close()
	}

	var bytesOut atomic.Int64
	var level atomic.Uint64
	onChunk := func(data []byte) {
		bytesOut.Add(int64(len(data)))
		if ws == nil {
			return
		}
		if err := ws.Send(data); err != nil && !errors.Is(err, sink.ErrQueueFull) {
			log.Error().Err(err).Msg("Failed to forward chunk")
		}
	}

	status := newTerminalStatus(os.Stderr)
	a, err := app.New(app.Config{
		Platform:      platform,
		Notifier:      newNotifier(cfg, platform, log),
		Config:        cfg,
		Logger:        log,
		StatusUpdater: status,
		OnChunk:       onChunk,
		OnFrame:       func(f feature.Frame) { level.Store(meterLevel(f)) },
	})
	if err != nil {
		return err
	}

	if err := a.Open(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}
	log.Info().Str("format", string(a.Format())).Msg("micstream capturing")

	quit := make(chan struct{})
	go readCommands(ctx, os.Stdin, os.Stdout, a, quit)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-quit:
			break loop
		case <-ticker.C:
			status.Meter(int(level.Load()), bytesOut.Load())
		}
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	return nil
}

// readCommands handles interactive commands until EOF or "q".
func readCommands(ctx context.Context, in io.Reader, out io.Writer, a *app.App, quit chan<- struct{}) {
	defer close(quit)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !handleCommand(ctx, a, scanner.Text(), out) {
			return
		}
	}
}

// handleCommand runs one command line and reports whether to keep going.
func handleCommand(ctx context.Context, a *app.App, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "m":
		if a.ToggleMute() {
			fmt.Fprintln(out, "muted")
		} else {
			fmt.Fprintln(out, "unmuted")
		}
	case "d":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: d <device id>")
			return true
		}
		id := strings.Join(fields[1:], " ")
		if err := a.ChangeDevice(ctx, id); err != nil {
			fmt.Fprintf(out, "switch failed: %v\n", err)
		}
	case "l":
		printDevices(out, a)
	case "q":
		return false
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
	return true
}

// meterLevel maps a loudness frame onto 0..20
func meterLevel(f feature.Frame) uint64 {
	var sum float64
	for _, v := range f {
		sum += v
	}
	level := uint64(sum / float64(feature.Bands) * 4)
	if level > 20 {
		level = 20
	}
	return level
}
