package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petems/micstream/internal/audio/audiotest"
	"github.com/petems/micstream/internal/capture"
	"github.com/petems/micstream/internal/config"
	"github.com/petems/micstream/internal/permissions"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type mockNotifier struct {
	mu sync.Mutex
	fn func()
}

func (m *mockNotifier) Subscribe(fn func()) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.fn = nil
	}, nil
}

func (m *mockNotifier) fire() {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type mockStatus struct {
	mu   sync.Mutex
	last string
}

func (m *mockStatus) set(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
}

func (m *mockStatus) SetIdle()      { m.set("idle") }
func (m *mockStatus) SetRecording() { m.set("recording") }
func (m *mockStatus) SetMuted()     { m.set("muted") }
func (m *mockStatus) SetError()     { m.set("error") }

func (m *mockStatus) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type testApp struct {
	*App
	platform *audiotest.Platform
	notifier *mockNotifier
	status   *mockStatus
	cfg      *config.Config
}

func newTestApp(t *testing.T, modify func(*config.Config)) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.SetPath(filepath.Join(t.TempDir(), "config.json"))
	cfg.Watcher.Debounce = 10 * time.Millisecond
	if modify != nil {
		modify(cfg)
	}

	p := audiotest.NewPlatform(
		audiotest.Input("default"),
		audiotest.Input("mic2"),
		audiotest.Output("speakers"),
	)
	n := &mockNotifier{}
	status := &mockStatus{}

	a, err := New(Config{
		Platform:      p,
		Notifier:      n,
		Config:        cfg,
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
		Permission:    func() permissions.Status { return permissions.Authorized },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	return &testApp{App: a, platform: p, notifier: n, status: status, cfg: cfg}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ { // Poll for 2 seconds
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresPlatform(t *testing.T) {
	if _, err := New(Config{Logger: zerolog.Nop()}); err == nil {
		t.Error("New() without a platform should fail")
	}
}

func TestOpenListsInputsOnly(t *testing.T) {
	a := newTestApp(t, nil)

	devices := a.Devices()
	if len(devices) != 2 {
		t.Fatalf("Devices() = %v, want 2 inputs", devices)
	}
	if d, ok := a.DefaultDevice(); !ok || d.ID != "default" {
		t.Errorf("DefaultDevice() = %v, %v", d, ok)
	}
	if d, ok := a.SelectedDevice(); !ok || d.ID != "default" {
		t.Errorf("SelectedDevice() = %v, %v", d, ok)
	}
	if a.Permission() != capture.PermissionPrompt {
		t.Errorf("Permission() = %v before any acquisition, want prompt", a.Permission())
	}
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !a.IsCapturing() || a.State() != capture.StateActive {
		t.Errorf("after Start: capturing=%v state=%v", a.IsCapturing(), a.State())
	}
	if got := a.status.get(); got != "recording" {
		t.Errorf("status = %q, want recording", got)
	}
	if a.Format() != "audio/wav" {
		t.Errorf("Format() = %q, want audio/wav", a.Format())
	}

	a.Stop()
	if a.IsCapturing() || a.State() != capture.StateStopped {
		t.Errorf("after Stop: capturing=%v state=%v", a.IsCapturing(), a.State())
	}
	if got := a.status.get(); got != "idle" {
		t.Errorf("status = %q, want idle", got)
	}
	if n := a.platform.LiveStreams(); n != 0 {
		t.Errorf("%d live streams after Stop", n)
	}
}

func TestStartDenied(t *testing.T) {
	a := newTestApp(t, nil)
	a.platform.Reject(audiotest.ErrRejected)

	err := a.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start() error = %v, want %v", err, capture.ErrPermissionDenied)
	}
	if a.IsCapturing() {
		t.Error("App should not be capturing after a denied start")
	}
	if a.Permission() != capture.PermissionDenied {
		t.Errorf("Permission() = %v, want denied", a.Permission())
	}
}

func TestToggleMute(t *testing.T) {
	a := newTestApp(t, nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !a.ToggleMute() || !a.IsMuted() {
		t.Fatal("first ToggleMute() should mute")
	}
	if got := a.status.get(); got != "muted" {
		t.Errorf("status = %q, want muted", got)
	}
	if a.ToggleMute() || a.IsMuted() {
		t.Fatal("second ToggleMute() should unmute")
	}
	if got := a.status.get(); got != "recording" {
		t.Errorf("status = %q, want recording", got)
	}
}

func TestChangeDevicePersistsSelection(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := a.ChangeDevice(ctx, "mic2"); err != nil {
		t.Fatalf("ChangeDevice() error = %v", err)
	}
	reqs := a.platform.Requests()
	if got := reqs[len(reqs)-1].DeviceID; got != "mic2" {
		t.Errorf("capturing from %q, want mic2", got)
	}

	saved, err := config.Load(a.cfg.Path())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.Audio.DeviceID != "mic2" {
		t.Errorf("saved device = %q, want mic2", saved.Audio.DeviceID)
	}
}

func TestChangeDeviceWhileIdleOnlySelects(t *testing.T) {
	a := newTestApp(t, nil)

	if err := a.ChangeDevice(context.Background(), "mic2"); err != nil {
		t.Fatal(err)
	}
	if len(a.platform.Requests()) != 0 {
		t.Error("ChangeDevice() acquired a stream while idle")
	}
	if d, _ := a.SelectedDevice(); d.ID != "mic2" {
		t.Errorf("SelectedDevice() = %q, want mic2", d.ID)
	}

	if err := a.ChangeDevice(context.Background(), "speakers"); err != nil {
		t.Fatal(err)
	}
	if d, _ := a.SelectedDevice(); d.ID != "mic2" {
		t.Error("an output device should not be selectable")
	}
}

func TestRestoresSavedSelection(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Audio.DeviceID = "mic2" })

	if d, _ := a.SelectedDevice(); d.ID != "mic2" {
		t.Fatalf("SelectedDevice() = %q, want the saved mic2", d.ID)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := a.platform.Requests()[0].DeviceID; got != "mic2" {
		t.Errorf("Start() pinned %q, want mic2", got)
	}
}

func TestFollowsUnpluggedDevice(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Audio.DeviceID = "mic2" })
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	a.platform.SetDevices(audiotest.Input("default"))
	a.notifier.fire()

	waitFor(t, "the switch to default", func() bool {
		reqs := a.platform.Requests()
		return len(reqs) == 2 && reqs[1].DeviceID == "default" && a.State() == capture.StateActive
	})
	if n := a.platform.LiveStreams(); n != 1 {
		t.Errorf("%d live streams, want 1", n)
	}
}

func TestIgnoresDeviceChangesWhenNotFollowing(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Audio.DeviceID = "mic2"
		c.App.FollowDeviceChanges = false
	})
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	a.platform.SetDevices(audiotest.Input("default"))
	a.notifier.fire()

	waitFor(t, "the device list refresh", func() bool { return len(a.Devices()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := len(a.platform.Requests()); n != 1 {
		t.Errorf("got %d acquisitions, want no switch", n)
	}
}

func TestShutdownReleasesStream(t *testing.T) {
	a := newTestApp(t, nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := a.platform.LiveStreams(); n != 0 {
		t.Errorf("%d live streams after Shutdown", n)
	}
	if a.IsCapturing() {
		t.Error("App should not be capturing after Shutdown")
	}
}

func TestConfiguredDeviceUsedWithoutPersistence(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Audio.DeviceID = "mic2"
		c.App.PersistSelection = false
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := a.platform.Requests()[0].DeviceID; got != "mic2" {
		t.Errorf("Start() pinned %q, want the configured mic2", got)
	}

	if err := a.ChangeDevice(context.Background(), "default"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(a.cfg.Path()); !os.IsNotExist(err) {
		t.Errorf("config written with persistence off (stat error %v)", err)
	}
}

func TestChangeDeviceKeepsOverridesOffDisk(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Capture.Formats = []string{"audio/pcm"}
		c.LogLevel = "debug"
	})

	if err := a.ChangeDevice(context.Background(), "mic2"); err != nil {
		t.Fatal(err)
	}

	saved, err := config.Load(a.cfg.Path())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.Audio.DeviceID != "mic2" {
		t.Errorf("saved device = %q, want mic2", saved.Audio.DeviceID)
	}
	if len(saved.Capture.Formats) != 2 || saved.Capture.Formats[0] != "audio/wav" {
		t.Errorf("saved formats = %v, want the defaults", saved.Capture.Formats)
	}
	if saved.LogLevel != "info" {
		t.Errorf("saved log level = %q, want info", saved.LogLevel)
	}
}
