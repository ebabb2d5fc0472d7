package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petems/micstream/internal/audio"
	"github.com/rs/zerolog"
)

// Notifier delivers platform device-change notifications
type Notifier interface {
	Subscribe(fn func()) (unsubscribe func(), err error)
}

// Refresher re-reads the device list; *Registry implements it.
type Refresher interface {
	Refresh(ctx context.Context) ([]audio.Device, error)
}

type WatcherConfig struct {
	Notifier  Notifier
	Refresher Refresher
	Debounce  time.Duration
	Logger    zerolog.Logger
	// OnRefresh is optional and receives every successfully refreshed list.
	// Whether to switch devices is up to the caller.
	OnRefresh func(devices []audio.Device)
}

// Watcher refreshes the device list after bursts of change notifications
// settle down.
type Watcher struct {
	notifier  Notifier
	refresher Refresher
	onRefresh func([]audio.Device)
	log       zerolog.Logger
	debouncer *Debouncer

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closed      bool
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		notifier:  cfg.Notifier,
		refresher: cfg.Refresher,
		onRefresh: cfg.OnRefresh,
		log:       cfg.Logger,
	}
	w.debouncer = NewDebouncer(cfg.Debounce, w.refresh)
	return w
}

// Start subscribes to notifications. Refreshes run with ctx until Close.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("device watcher closed")
	}
	if w.unsubscribe != nil {
		return errors.New("device watcher already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	unsubscribe, err := w.notifier.Subscribe(w.debouncer.Trigger)
	if err != nil {
		w.cancel()
		return err
	}
	w.unsubscribe = unsubscribe
	w.log.Debug().Msg("Watching for device changes")
	return nil
}

func (w *Watcher) refresh() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	devices, err := w.refresher.Refresh(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Device refresh failed")
		return
	}
	w.log.Info().Int("devices", len(devices)).Msg("Audio devices changed")
	if w.onRefresh != nil {
		w.onRefresh(devices)
	}
}

// Close unsubscribes, drops any pending refresh and waits for a running
// one, including its OnRefresh. A closed watcher cannot be started again.
// Safe to call twice.
func (w *Watcher) Close() error {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	cancel := w.cancel
	w.unsubscribe = nil
	w.cancel = nil
	w.closed = true
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	w.debouncer.Stop()
	return nil
}
