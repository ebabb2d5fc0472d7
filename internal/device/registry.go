// Package device keeps track of the microphones a platform exposes and of
// the user's selection among them.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/petems/micstream/internal/audio"
	"github.com/rs/zerolog"
)

// DefaultOf picks the device carrying the reserved default id, else the
// first device. It reports false for an empty list.
func DefaultOf(devices []audio.Device) (audio.Device, bool) {
	for _, d := range devices {
		if d.ID == audio.DefaultDeviceID {
			return d, true
		}
	}
	if len(devices) == 0 {
		return audio.Device{}, false
	}
	return devices[0], true
}

func indexOf(devices []audio.Device, id string) int {
	for i, d := range devices {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// Registry holds the last enumerated input devices, the default among them
// and the current selection.
type Registry struct {
	platform audio.Enumerator
	log      zerolog.Logger

	mu       sync.RWMutex
	devices  []audio.Device
	def      *audio.Device
	selected *audio.Device
}

func NewRegistry(platform audio.Enumerator, log zerolog.Logger) *Registry {
	return &Registry{platform: platform, log: log}
}

// Enumerate queries the platform for input devices in platform order.
// It does not touch the registry state.
func (r *Registry) Enumerate(ctx context.Context) ([]audio.Device, error) {
	all, err := r.platform.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	inputs := make([]audio.Device, 0, len(all))
	for _, d := range all {
		if d.Kind == audio.KindInput {
			inputs = append(inputs, d)
		}
	}
	return inputs, nil
}

// Refresh enumerates and replaces the stored list. The selection survives
// when its device is still present; otherwise it falls back to the new
// default.
func (r *Registry) Refresh(ctx context.Context) ([]audio.Device, error) {
	devices, err := r.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = devices
	r.def = nil
	if d, ok := DefaultOf(devices); ok {
		r.def = &d
	}

	switch {
	case r.selected != nil && indexOf(devices, r.selected.ID) >= 0:
		// refresh the label, the id is what identifies it
		d := devices[indexOf(devices, r.selected.ID)]
		r.selected = &d
	case r.def != nil:
		if r.selected != nil {
			r.log.Info().Str("lost", r.selected.ID).Str("fallback", r.def.ID).Msg("Selected device disappeared")
		}
		d := *r.def
		r.selected = &d
	default:
		r.selected = nil
	}

	r.log.Debug().Int("count", len(devices)).Msg("Device list refreshed")
	return r.snapshotLocked(), nil
}

// Devices returns a copy of the last enumerated list
func (r *Registry) Devices() []audio.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []audio.Device {
	out := make([]audio.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Registry) Default() (audio.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.def == nil {
		return audio.Device{}, false
	}
	return *r.def, true
}

func (r *Registry) Selected() (audio.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return audio.Device{}, false
	}
	return *r.selected, true
}

// Select marks id as the selected device. Unknown ids leave the selection
// unchanged and report false.
func (r *Registry) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := indexOf(r.devices, id)
	if i < 0 {
		return false
	}
	d := r.devices[i]
	r.selected = &d
	return true
}
