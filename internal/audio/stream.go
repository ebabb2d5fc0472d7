package audio

import (
	"sync"
	"sync/atomic"
)

// tapSet fans captured buffers out to every registered tap
type tapSet struct {
	mu   sync.RWMutex
	next int
	fns  map[int]TapFunc
}

func (t *tapSet) add(fn TapFunc) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fns == nil {
		t.fns = make(map[int]TapFunc)
	}
	id := t.next
	t.next++
	t.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.fns, id)
			t.mu.Unlock()
		})
	}
}

func (t *tapSet) emit(samples []float32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, fn := range t.fns {
		fn(samples)
	}
}

// track is the single audio track backing the hardware streams
type track struct {
	id      string
	enabled atomic.Bool
	ended   atomic.Bool
	once    sync.Once
	release func() error
	err     error
}

func newTrack(id string, release func() error) *track {
	t := &track{id: id, release: release}
	t.enabled.Store(true)
	return t
}

func (t *track) ID() string              { return t.id }
func (t *track) Enabled() bool           { return t.enabled.Load() }
func (t *track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *track) Ended() bool             { return t.ended.Load() }

func (t *track) Stop() error {
	t.once.Do(func() {
		t.ended.Store(true)
		if t.release != nil {
			t.err = t.release()
		}
	})
	return t.err
}

// hwStream is shared by the hardware backends: one track, a tap set and a
// scratch buffer used for silence while the track is disabled.
type hwStream struct {
	id         string
	sampleRate int
	track      *track
	taps       tapSet
	silence    []float32
}

func (s *hwStream) ID() string           { return s.id }
func (s *hwStream) SampleRate() int      { return s.sampleRate }
func (s *hwStream) AudioTracks() []Track { return []Track{s.track} }

func (s *hwStream) Tap(fn TapFunc) func() {
	return s.taps.add(fn)
}

// deliver is called from the backend's audio callback
func (s *hwStream) deliver(samples []float32) {
	if s.track.Ended() {
		return
	}
	if !s.track.Enabled() {
		if cap(s.silence) < len(samples) {
			s.silence = make([]float32, len(samples))
		}
		samples = s.silence[:len(samples)]
		clear(samples)
	}
	s.taps.emit(samples)
}

// downmixInterleaved averages interleaved frames down to a fresh mono slice.
func downmixInterleaved(in []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, in)
		return out
	}
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
