package encoder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/micstream/internal/audio"
	"github.com/rs/zerolog"
)

// DefaultInterval is the chunk cadence used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Recorder buffers the samples of a stream and emits one encoded chunk per
// interval through the OnData callback. A final chunk with whatever is
// left is emitted on Stop.
type Recorder struct {
	stream audio.Stream
	format Format
	log    zerolog.Logger

	mu      sync.Mutex
	onData  func([]byte)
	pending []float32
	paused  bool
	started bool
	stopped bool
	detach  func()
	quit    chan struct{}
	done    chan struct{}
}

func NewRecorder(stream audio.Stream, format Format, log zerolog.Logger) (*Recorder, error) {
	if stream == nil {
		return nil, errors.New("recorder needs a stream")
	}
	if !IsSupported(format) {
		return nil, fmt.Errorf("%w: %s", ErrNoSupportedFormat, format)
	}
	return &Recorder{
		stream: stream,
		format: normalize(format),
		log:    log.With().Str("format", string(format)).Str("stream", stream.ID()).Logger(),
	}, nil
}

func (r *Recorder) Format() Format { return r.format }

// OnData sets the chunk callback. nil detaches it and later chunks are
// dropped.
func (r *Recorder) OnData(fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = fn
}

// Start begins buffering and emits a chunk every interval.
func (r *Recorder) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.New("recorder stopped")
	}
	if r.started {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	r.started = true
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	detach := r.stream.Tap(r.push)
	r.mu.Lock()
	r.detach = detach
	r.mu.Unlock()

	go r.loop(interval)
	r.log.Debug().Dur("interval", interval).Msg("Recorder started")
	return nil
}

func (r *Recorder) loop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			if err := r.flush(); err != nil {
				r.log.Error().Err(err).Msg("Failed to encode chunk")
			}
		}
	}
}

func (r *Recorder) push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || r.stopped {
		return
	}
	r.pending = append(r.pending, samples...)
}

func (r *Recorder) flush() error {
	r.mu.Lock()
	samples := r.pending
	r.pending = nil
	fn := r.onData
	r.mu.Unlock()

	if len(samples) == 0 || fn == nil {
		return nil
	}
	data, err := encodeChunk(r.format, r.stream.SampleRate(), samples)
	if err != nil {
		return err
	}
	fn(data)
	return nil
}

// Pause drops incoming samples until Resume. Buffered samples are still
// emitted on the next tick.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

func (r *Recorder) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Stop detaches from the stream, waits for the ticker goroutine and emits
// the final chunk. Safe to call twice.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	detach := r.detach
	r.detach = nil
	started := r.started
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
	if !started {
		return nil
	}
	close(r.quit)
	<-r.done

	if err := r.flush(); err != nil {
		return fmt.Errorf("failed to flush final chunk: %w", err)
	}
	r.log.Debug().Msg("Recorder stopped")
	return nil
}
