package audio

import (
	"context"
	"errors"
)

// DefaultDeviceID is the reserved identifier of the platform's default input.
const DefaultDeviceID = "default"

// Kind tells input devices apart from output devices
type Kind int

const (
	KindInput Kind = iota
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Device represents an audio device reported by a platform
type Device struct {
	ID    string
	Label string
	Kind  Kind
}

// Equal reports whether d and other refer to the same device.
func (d Device) Equal(other Device) bool {
	return d.ID == other.ID
}

// Constraints describes the stream a caller asks the platform for.
// An empty DeviceID lets the platform choose.
type Constraints struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// TapFunc receives mono float32 samples captured by a stream. The slice is
// only valid for the duration of the call.
type TapFunc func(samples []float32)

// Track is a single media channel of a Stream
type Track interface {
	ID() string
	Enabled() bool
	// SetEnabled toggles the track without releasing the hardware.
	// A disabled track delivers silence.
	SetEnabled(enabled bool)
	// Stop releases the hardware behind the track. Safe to call twice.
	Stop() error
	Ended() bool
}

// Stream is a live hardware capture handle
type Stream interface {
	ID() string
	SampleRate() int
	AudioTracks() []Track
	// Tap registers fn for every captured buffer and returns a func that
	// removes it again.
	Tap(fn TapFunc) (detach func())
}

// Enumerator lists the devices known to a platform
type Enumerator interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Opener acquires hardware streams
type Opener interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Platform is the capture capability surface of a backend
type Platform interface {
	Enumerator
	Opener
	Close() error
}

// StopTracks stops every track of s and joins the failures.
func StopTracks(s Stream) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, t := range s.AudioTracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
