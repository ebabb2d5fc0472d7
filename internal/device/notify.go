package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/petems/micstream/internal/audio"
	"github.com/rs/zerolog"
)

// FSNotifier reports device nodes appearing or disappearing in a directory,
// /dev/snd on Linux.
type FSNotifier struct {
	path string
	log  zerolog.Logger
}

func NewFSNotifier(path string, log zerolog.Logger) *FSNotifier {
	return &FSNotifier{path: path, log: log}
}

func (n *FSNotifier) Subscribe(fn func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(n.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", n.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
					n.log.Debug().Str("node", event.Name).Str("op", event.Op.String()).Msg("Device node changed")
					fn()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				n.log.Warn().Err(err).Msg("fsnotify error")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			watcher.Close()
			<-done
		})
	}, nil
}

// PollNotifier enumerates on an interval and notifies when the list differs
// from the previous poll. It works with any platform, at the cost of
// latency.
type PollNotifier struct {
	platform audio.Enumerator
	interval time.Duration
	log      zerolog.Logger
}

func NewPollNotifier(platform audio.Enumerator, interval time.Duration, log zerolog.Logger) *PollNotifier {
	return &PollNotifier{platform: platform, interval: interval, log: log}
}

func (n *PollNotifier) Subscribe(fn func()) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	last, err := n.fingerprint(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := n.fingerprint(ctx)
				if err != nil {
					if ctx.Err() == nil {
						n.log.Warn().Err(err).Msg("Device poll failed")
					}
					continue
				}
				if current != last {
					last = current
					fn()
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (n *PollNotifier) fingerprint(ctx context.Context) (string, error) {
	devices, err := n.platform.Devices(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, d := range devices {
		fmt.Fprintf(&sb, "%d:%s\n", d.Kind, d.ID)
	}
	return sb.String(), nil
}
