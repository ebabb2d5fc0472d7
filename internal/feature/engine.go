// Package feature computes a per-band loudness frame from live audio for
// visualisation.
package feature

import (
	"fmt"
	"sync"

	"github.com/petems/micstream/internal/audio"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the analysis window in samples.
const DefaultBufferSize = 512

// Engine analyses the samples of one bound stream in consecutive,
// non-overlapping buffers and publishes a Frame per buffer.
//
// The analyser (FFT plan, window and band table) is built once and shared
// across rebinds, so switching devices never reallocates it.
type Engine struct {
	log zerolog.Logger

	mu        sync.Mutex
	analyser  *analyser
	stream    audio.Stream
	detach    func()
	pending   []float32
	running   bool
	suspended bool
	frame     Frame
	onFrame   func(Frame)
}

func NewEngine(bufferSize int, log zerolog.Logger) (*Engine, error) {
	if bufferSize < 2*Bands || bufferSize&(bufferSize-1) != 0 {
		return nil, fmt.Errorf("invalid feature buffer size %d: must be a power of two >= %d", bufferSize, 2*Bands)
	}
	return &Engine{
		log:      log,
		analyser: newAnalyser(bufferSize),
		pending:  make([]float32, 0, bufferSize),
		frame:    Baseline(),
	}, nil
}

// OnFrame sets the callback run for every analysed buffer. It runs on the
// capture goroutine and must not block.
func (e *Engine) OnFrame(fn func(Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = fn
}

// Bind attaches the engine to stream, detaching the previous source.
// Binding nil only detaches.
func (e *Engine) Bind(stream audio.Stream) {
	e.mu.Lock()
	old := e.detach
	e.detach = nil
	e.stream = stream
	e.pending = e.pending[:0]
	if stream != nil {
		e.analyser.setSampleRate(stream.SampleRate())
	}
	e.mu.Unlock()

	if old != nil {
		old()
	}
	if stream == nil {
		return
	}

	detach := stream.Tap(e.push)
	e.mu.Lock()
	if e.stream == stream {
		e.detach = detach
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// rebound concurrently
	detach()
}

// Start resumes analysis on the bound source, including after Suspend.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.suspended = false
	e.log.Debug().Bool("bound", e.stream != nil).Msg("Feature engine started")
}

// Stop halts analysis and resets the latest frame to baseline.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.pending = e.pending[:0]
	e.frame = Baseline()
}

// Suspend parks processing without releasing the analyser. Start resumes.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended = true
}

func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && !e.suspended
}

// Frame returns a copy of the latest frame.
func (e *Engine) Frame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame.Clone()
}

func (e *Engine) push(samples []float32) {
	var frames []Frame

	e.mu.Lock()
	if !e.running || e.suspended {
		e.mu.Unlock()
		return
	}
	size := e.analyser.size
	for len(samples) > 0 {
		n := size - len(e.pending)
		if n > len(samples) {
			n = len(samples)
		}
		e.pending = append(e.pending, samples[:n]...)
		samples = samples[n:]

		if len(e.pending) == size {
			frame := make(Frame, Bands)
			e.analyser.analyse(e.pending, frame)
			e.pending = e.pending[:0]
			e.frame = frame
			frames = append(frames, frame)
		}
	}
	fn := e.onFrame
	e.mu.Unlock()

	if fn == nil {
		return
	}
	for _, f := range frames {
		fn(f.Clone())
	}
}
