// Package audiotest provides an in-memory capture platform.
//
// This platform is intended to be used in testing only! Streams produce no
// samples on their own; tests push buffers through Stream.Push.
package audiotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/micstream/internal/audio"
)

// ErrRejected is returned by Open when the platform is told to refuse.
var ErrRejected = errors.New("acquisition rejected")

// Track is an in-memory audio track
type Track struct {
	id      string
	enabled atomic.Bool
	ended   atomic.Bool
	stops   atomic.Int32
	stopErr error
}

func NewTrack(id string) *Track {
	t := &Track{id: id}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *Track) Ended() bool             { return t.ended.Load() }

// Stops reports how many times Stop was called.
func (t *Track) Stops() int { return int(t.stops.Load()) }

// FailStop makes every later Stop call return err.
func (t *Track) FailStop(err error) { t.stopErr = err }

func (t *Track) Stop() error {
	t.stops.Add(1)
	t.ended.Store(true)
	return t.stopErr
}

// Stream is an in-memory capture stream
type Stream struct {
	id         string
	sampleRate int
	tracks     []*Track

	mu   sync.RWMutex
	next int
	taps map[int]audio.TapFunc
}

// NewStream builds a stream with n audio tracks.
func NewStream(id string, sampleRate, n int) *Stream {
	s := &Stream{id: id, sampleRate: sampleRate, taps: make(map[int]audio.TapFunc)}
	for i := 0; i < n; i++ {
		s.tracks = append(s.tracks, NewTrack(fmt.Sprintf("%s/audio%d", id, i)))
	}
	return s
}

func (s *Stream) ID() string      { return s.id }
func (s *Stream) SampleRate() int { return s.sampleRate }

func (s *Stream) AudioTracks() []audio.Track {
	out := make([]audio.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Track returns the i-th track with its concrete type.
func (s *Stream) Track(i int) *Track { return s.tracks[i] }

// Live reports whether any track is still running.
func (s *Stream) Live() bool {
	for _, t := range s.tracks {
		if !t.Ended() {
			return true
		}
	}
	return false
}

func (s *Stream) Tap(fn audio.TapFunc) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.taps[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.taps, id)
			s.mu.Unlock()
		})
	}
}

// Taps reports how many taps are attached.
func (s *Stream) Taps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.taps)
}

// Push delivers samples to every tap, silence when the first track is
// disabled, nothing when every track ended.
func (s *Stream) Push(samples []float32) {
	if !s.Live() {
		return
	}
	if len(s.tracks) > 0 && !s.tracks[0].Enabled() {
		samples = make([]float32, len(samples))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.taps {
		fn(samples)
	}
}

// Platform is an in-memory audio.Platform
type Platform struct {
	SampleRate int

	mu       sync.Mutex
	devices  []audio.Device
	enumErr  error
	reject   error
	tracks   int
	gate     chan struct{}
	opened   []*Stream
	requests []audio.Constraints
	closed   bool
}

// NewPlatform returns a platform listing devices and opening one-track
// streams at 16 kHz.
func NewPlatform(devices ...audio.Device) *Platform {
	return &Platform{SampleRate: 16000, devices: devices, tracks: 1}
}

// Input is a shorthand for an input device whose label equals its id.
func Input(id string) audio.Device {
	return audio.Device{ID: id, Label: id, Kind: audio.KindInput}
}

// Output is a shorthand for an output device.
func Output(id string) audio.Device {
	return audio.Device{ID: id, Label: id, Kind: audio.KindOutput}
}

func (p *Platform) SetDevices(devices ...audio.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

func (p *Platform) FailEnumerate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumErr = err
}

// Reject makes Open fail with err; nil restores normal behaviour.
func (p *Platform) Reject(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject = err
}

// SetTracks sets how many audio tracks later streams carry.
func (p *Platform) SetTracks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = n
}

// Hold makes the next Open call block until the returned func is called.
func (p *Platform) Hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (p *Platform) Devices(ctx context.Context) ([]audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	out := make([]audio.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *Platform) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	p.mu.Lock()
	gate := p.gate
	p.gate = nil
	p.requests = append(p.requests, c)
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject != nil {
		return nil, p.reject
	}
	if c.DeviceID != "" && c.DeviceID != audio.DefaultDeviceID && !p.hasInput(c.DeviceID) {
		return nil, fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, c.DeviceID)
	}
	s := NewStream(fmt.Sprintf("stream-%d", len(p.opened)+1), p.SampleRate, p.tracks)
	p.opened = append(p.opened, s)
	return s, nil
}

func (p *Platform) hasInput(id string) bool {
	for _, d := range p.devices {
		if d.ID == id && d.Kind == audio.KindInput {
			return true
		}
	}
	return false
}

// Opened returns every stream handed out so far, oldest first.
func (p *Platform) Opened() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stream, len(p.opened))
	copy(out, p.opened)
	return out
}

// Requests returns the constraints of every Open call.
func (p *Platform) Requests() []audio.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Constraints, len(p.requests))
	copy(out, p.requests)
	return out
}

// LiveStreams counts streams that still have a running track.
func (p *Platform) LiveStreams() int {
	n := 0
	for _, s := range p.Opened() {
		if s.Live() {
			n++
		}
	}
	return n
}

func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
