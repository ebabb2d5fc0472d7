package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/micstream/internal/audio"
	"github.com/petems/micstream/internal/capture"
	"github.com/petems/micstream/internal/config"
	"github.com/petems/micstream/internal/device"
	"github.com/petems/micstream/internal/encoder"
	"github.com/petems/micstream/internal/feature"
	"github.com/petems/micstream/internal/permissions"
	"github.com/rs/zerolog"
)

// StatusUpdater is an interface for reporting capture status (e.g. a
// terminal status line)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetMuted()
	SetError()
}

type Config struct {
	Platform audio.Platform
	// Notifier is optional; without it the device list only changes on
	// UpdateDeviceList.
	Notifier      device.Notifier
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil

	OnChunk func([]byte)
	OnFrame func(feature.Frame)
	OnError func(error)

	// Permission overrides the OS microphone check.
	Permission func() permissions.Status
}

// App is the consumer facing side of the capture core: it owns the device
// registry, the watcher and one capture session.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	status  StatusUpdater
	onError func(error)

	registry *device.Registry
	engine   *feature.Engine
	session  *capture.Session
	watcher  *device.Watcher

	mu        sync.Mutex
	ctx       context.Context
	capturing bool
	active    string
	restored  bool
}

func New(cfg Config) (*App, error) {
	if cfg.Platform == nil {
		return nil, errors.New("app needs an audio platform")
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}

	engine, err := feature.NewEngine(cfg.Config.Feature.BufferSize, cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg.Config,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		onError:  cfg.OnError,
		registry: device.NewRegistry(cfg.Platform, cfg.Logger),
		engine:   engine,
		ctx:      context.Background(),
	}

	formats := encoder.ParseFormats(cfg.Config.Capture.Formats)
	a.session = capture.NewSession(capture.Config{
		Source: capture.NewAcquirer(capture.AcquirerConfig{
			Opener:     cfg.Platform,
			Logger:     cfg.Logger,
			Permission: cfg.Permission,
		}),
		Encoders:      capture.RecorderFactory(cfg.Logger),
		Features:      engine,
		Devices:       a.registry,
		ResolveFormat: func() (encoder.Format, error) { return encoder.Resolve(formats...) },
		ChunkInterval: cfg.Config.Capture.ChunkInterval,
		OnChunk:       cfg.OnChunk,
		OnFrame:       cfg.OnFrame,
		OnState:       a.onState,
		OnError:       a.reportError,
		Logger:        cfg.Logger,
	})

	if cfg.Notifier != nil {
		a.watcher = device.NewWatcher(device.WatcherConfig{
			Notifier:  cfg.Notifier,
			Refresher: a.registry,
			Debounce:  cfg.Config.Watcher.Debounce,
			Logger:    cfg.Logger,
			OnRefresh: a.onDevicesChanged,
		})
	}
	return a, nil
}

// Open loads the device list and starts watching for device changes.
// ctx bounds the watcher and any device switch it triggers.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	if _, err := a.UpdateDeviceList(ctx); err != nil {
		return err
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Device change notifications unavailable")
		}
	}
	return nil
}

// UpdateDeviceList re-enumerates input devices. The first successful call
// selects the configured device when it is plugged in.
func (a *App) UpdateDeviceList(ctx context.Context) ([]audio.Device, error) {
	devices, err := a.registry.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.restored {
		a.restored = true
		if id := a.cfg.Audio.DeviceID; id != "" {
			if !a.registry.Select(id) {
				a.log.Info().Str("device", id).Msg("Configured device not present, using default")
			}
		}
	}
	return devices, nil
}

// Start captures from the selected device.
func (a *App) Start(ctx context.Context) error {
	id := ""
	if d, ok := a.registry.Selected(); ok {
		id = d.ID
	}

	a.mu.Lock()
	a.capturing = true
	a.active = id
	a.mu.Unlock()

	if err := a.session.AcquireAndStart(ctx, id); err != nil {
		a.mu.Lock()
		a.capturing = false
		a.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	if a.session.Permission() == capture.PermissionDenied {
		a.mu.Lock()
		a.capturing = false
		a.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", a.session.Failure())
	}
	return nil
}

func (a *App) Stop() {
	a.mu.Lock()
	a.capturing = false
	a.mu.Unlock()
	a.session.Stop()
}

func (a *App) Mute()   { a.session.Mute() }
func (a *App) Unmute() { a.session.Unmute() }

// ToggleMute flips the mute flag and returns the new value.
func (a *App) ToggleMute() bool {
	if a.session.Muted() {
		a.session.Unmute()
		return false
	}
	a.session.Mute()
	return true
}

// ChangeDevice selects id. While capturing the session switches to it;
// otherwise the selection applies to the next Start. Unknown ids are
// ignored.
func (a *App) ChangeDevice(ctx context.Context, id string) error {
	if !containsDevice(a.registry.Devices(), id) {
		a.log.Warn().Str("device", id).Msg("Unknown device")
		return nil
	}

	a.mu.Lock()
	capturing := a.capturing
	if capturing {
		a.active = id
	}
	a.mu.Unlock()

	if capturing {
		if err := a.session.ChangeDevice(ctx, id); err != nil {
			return err
		}
	} else {
		a.registry.Select(id)
	}

	a.persistSelection(id)
	return nil
}

func (a *App) persistSelection(id string) {
	if !a.cfg.App.PersistSelection || a.cfg.Audio.DeviceID == id {
		return
	}
	if err := a.cfg.SaveDeviceID(id); err != nil {
		a.log.Error().Err(err).Msg("Failed to save device selection")
	}
}

// onDevicesChanged switches to the fallback device when the device being
// captured from was unplugged.
func (a *App) onDevicesChanged(devices []audio.Device) {
	if !a.cfg.App.FollowDeviceChanges {
		return
	}

	a.mu.Lock()
	capturing, active, ctx := a.capturing, a.active, a.ctx
	a.mu.Unlock()
	if !capturing || containsDevice(devices, active) {
		return
	}

	next, ok := a.registry.Selected()
	if !ok {
		a.log.Warn().Str("lost", active).Msg("Capture device gone and no fallback available")
		a.Stop()
		return
	}

	a.log.Info().Str("lost", active).Str("device", next.ID).Msg("Switching to fallback device")
	a.mu.Lock()
	a.active = next.ID
	a.mu.Unlock()
	if err := a.session.ChangeDevice(ctx, next.ID); err != nil {
		a.reportError(fmt.Errorf("failed to switch to %s: %w", next.ID, err))
	}
}

func (a *App) onState(state capture.State) {
	if a.status == nil {
		return
	}
	switch state {
	case capture.StateActive:
		a.status.SetRecording()
	case capture.StateMuted:
		a.status.SetMuted()
	case capture.StateFailed:
		a.status.SetError()
	case capture.StateIdle, capture.StateStopped:
		a.status.SetIdle()
	}
}

func (a *App) reportError(err error) {
	a.log.Error().Err(err).Msg("Capture error")
	if a.onError != nil {
		a.onError(err)
	}
}

// Shutdown stops watching and releases the microphone. The platform is
// left open for its owner to close.
func (a *App) Shutdown(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Close()
	}

	a.mu.Lock()
	a.capturing = false
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.session.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture teardown: %w", ctx.Err())
	}
}

func containsDevice(devices []audio.Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (a *App) Devices() []audio.Device { return a.registry.Devices() }

func (a *App) SelectedDevice() (audio.Device, bool) { return a.registry.Selected() }

func (a *App) DefaultDevice() (audio.Device, bool) { return a.registry.Default() }

func (a *App) Permission() capture.PermissionState { return a.session.Permission() }

func (a *App) State() capture.State { return a.session.State() }

func (a *App) IsMuted() bool { return a.session.Muted() }

func (a *App) Frame() feature.Frame { return a.session.Frame() }

func (a *App) Format() encoder.Format { return a.session.Format() }

// IsCapturing reports whether capture was started and not stopped since.
func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}
