package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petems/micstream/internal/audio"
	"github.com/petems/micstream/internal/encoder"
	"github.com/petems/micstream/internal/feature"
	"github.com/rs/zerolog"
)

// StreamSource acquires capture streams; *Acquirer implements it.
type StreamSource interface {
	Acquire(ctx context.Context, deviceID string) (audio.Stream, error)
}

// ChunkEncoder emits encoded chunks of a stream at a fixed interval;
// *encoder.Recorder implements it.
type ChunkEncoder interface {
	OnData(fn func([]byte))
	Start(interval time.Duration) error
	Pause()
	Resume()
	Stop() error
}

// EncoderFactory builds a ChunkEncoder for stream in format.
type EncoderFactory func(stream audio.Stream, format encoder.Format) (ChunkEncoder, error)

// RecorderFactory returns an EncoderFactory producing encoder.Recorders.
func RecorderFactory(log zerolog.Logger) EncoderFactory {
	return func(stream audio.Stream, format encoder.Format) (ChunkEncoder, error) {
		return encoder.NewRecorder(stream, format, log)
	}
}

// FeatureEngine computes loudness frames from a bound stream;
// *feature.Engine implements it.
type FeatureEngine interface {
	Bind(stream audio.Stream)
	Start()
	Stop()
	Suspend()
	OnFrame(fn func(feature.Frame))
}

// DeviceDirectory is the device list a session switches between;
// *device.Registry implements it.
type DeviceDirectory interface {
	Devices() []audio.Device
	Select(id string) bool
}

type Config struct {
	Source   StreamSource
	Encoders EncoderFactory
	Features FeatureEngine
	Devices  DeviceDirectory

	// ResolveFormat is called once by NewSession. Defaults to
	// encoder.Resolve with no preference.
	ResolveFormat func() (encoder.Format, error)
	ChunkInterval time.Duration

	// Callbacks never run under the session lock. OnChunk and OnFrame run
	// on capture goroutines and may use the query methods, but must not
	// call Start, Stop, Mute, Unmute, ChangeDevice or Close synchronously.
	// All are optional.
	OnChunk func([]byte)
	OnFrame func(feature.Frame)
	OnState func(State)
	OnError func(error)

	Logger zerolog.Logger
}

// Session is the capture lifecycle of one consumer. At most one stream is
// adopted at a time; results of acquisitions that were superseded while
// pending are released instead of adopted.
type Session struct {
	id       string
	log      zerolog.Logger
	source   StreamSource
	encoders EncoderFactory
	features FeatureEngine
	devices  DeviceDirectory
	interval time.Duration
	format   encoder.Format

	onChunk func([]byte)
	onFrame func(feature.Frame)
	onState func(State)
	onError func(error)

	// mu serialises the lifecycle operations. viewMu additionally guards
	// the fields the query methods read, so queries never wait on hardware.
	mu         sync.Mutex
	viewMu     sync.RWMutex
	gen        uint64
	state      State
	permission PermissionState
	failure    error
	stream     audio.Stream
	enc        ChunkEncoder
	closed     bool

	// drained by unlock
	pendingStates []State
	pendingErrs   []error
	pendingChunks [][]byte
	pendingFrame  bool

	// read on the capture path without the session lock
	muted   atomic.Bool
	running atomic.Bool

	frameMu sync.RWMutex
	frame   feature.Frame
}

func NewSession(cfg Config) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		log:      cfg.Logger.With().Str("session", id).Logger(),
		source:   cfg.Source,
		encoders: cfg.Encoders,
		features: cfg.Features,
		devices:  cfg.Devices,
		interval: cfg.ChunkInterval,
		onChunk:  cfg.OnChunk,
		onFrame:  cfg.OnFrame,
		onState:  cfg.OnState,
		onError:  cfg.OnError,
		frame:    feature.Baseline(),
	}
	if s.interval <= 0 {
		s.interval = encoder.DefaultInterval
	}
	if s.encoders == nil {
		s.encoders = RecorderFactory(cfg.Logger)
	}

	resolve := cfg.ResolveFormat
	if resolve == nil {
		resolve = func() (encoder.Format, error) { return encoder.Resolve() }
	}
	format, err := resolve()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to resolve encoding format")
		s.report(err)
	} else {
		s.format = format
	}

	s.features.OnFrame(s.handleFrame)
	s.log.Debug().Str("format", string(s.format)).Msg("Capture session created")
	return s
}

// Acquire requests a stream on deviceID, releasing any stream held so far.
// A platform rejection is not returned as an error: it moves the session
// through StateFailed to StateStopped and reports PermissionDenied.
func (s *Session) Acquire(ctx context.Context, deviceID string) (PermissionState, error) {
	perm, _, err := s.acquire(ctx, deviceID)
	return perm, err
}

func (s *Session) acquire(ctx context.Context, deviceID string) (PermissionState, uint64, error) {
	s.mu.Lock()
	if s.closed {
		perm := s.permission
		s.mu.Unlock()
		return perm, 0, ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	if s.stream != nil || s.enc != nil {
		s.teardownLocked()
	}
	s.setStateLocked(StateAcquiring)
	s.unlock()

	s.log.Info().Str("device", deviceID).Uint64("generation", gen).Msg("Acquiring microphone")
	stream, err := s.source.Acquire(ctx, deviceID)

	s.mu.Lock()
	if gen != s.gen {
		perm := s.permission
		s.mu.Unlock()
		if stream != nil {
			if stopErr := audio.StopTracks(stream); stopErr != nil {
				s.report(fmt.Errorf("failed to release stale stream: %w", stopErr))
			}
			s.log.Info().Str("stream", stream.ID()).Uint64("generation", gen).Msg("Released stale stream")
		}
		return perm, gen, ErrStaleAcquisition
	}

	if err != nil {
		s.viewMu.Lock()
		s.permission = PermissionDenied
		s.failure = err
		s.viewMu.Unlock()
		s.setStateLocked(StateFailed)
		s.setStateLocked(StateStopped)
		s.unlock()

		s.log.Warn().Err(err).Str("device", deviceID).Msg("Microphone acquisition failed")
		if errors.Is(err, ErrPermissionDenied) {
			return PermissionDenied, gen, nil
		}
		return PermissionDenied, gen, err
	}

	s.viewMu.Lock()
	s.permission = PermissionGranted
	s.failure = nil
	s.stream = stream
	s.viewMu.Unlock()
	s.unlock()
	return PermissionGranted, gen, nil
}

// Start wires the adopted stream to the feature engine and the chunk
// encoder. Starting a running session does nothing.
func (s *Session) Start() error {
	s.mu.Lock()
	return s.startLocked(s.gen)
}

func (s *Session) startGen(gen uint64) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrStaleAcquisition
	}
	return s.startLocked(gen)
}

// startLocked releases s.mu.
func (s *Session) startLocked(gen uint64) error {
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.stream == nil:
		s.mu.Unlock()
		return ErrNoStreamConnected
	case s.format == "":
		s.mu.Unlock()
		return ErrNoEncodingFormat
	case s.enc != nil:
		s.mu.Unlock()
		return nil
	}

	enc, err := s.encoders(s.stream, s.format)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	muted := s.muted.Load()
	s.features.Bind(s.stream)
	if !muted {
		s.features.Start()
	}
	s.running.Store(true)

	enc.OnData(s.handleChunk)
	if err := enc.Start(s.interval); err != nil {
		enc.OnData(nil)
		s.running.Store(false)
		s.features.Stop()
		s.mu.Unlock()
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	s.enc = enc

	if muted {
		enc.Pause()
		setTracksEnabled(s.stream, false)
		s.setStateLocked(StateMuted)
	} else {
		s.setStateLocked(StateActive)
	}
	s.log.Info().
		Str("stream", s.stream.ID()).
		Str("format", string(s.format)).
		Uint64("generation", gen).
		Bool("muted", muted).
		Msg("Capture started")
	s.unlock()
	return nil
}

// AcquireAndStart acquires deviceID and starts capturing from it.
func (s *Session) AcquireAndStart(ctx context.Context, deviceID string) error {
	perm, gen, err := s.acquire(ctx, deviceID)
	if err != nil {
		return err
	}
	if perm != PermissionGranted {
		return nil
	}
	return s.startGen(gen)
}

// Stop releases everything the session holds. Failing steps are reported
// through OnError and never stop later steps. Stopping an idle or stopped
// session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	s.gen++
	if s.stream == nil && s.enc == nil && (s.state == StateIdle || s.state == StateStopped) {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.setStateLocked(StateStopped)
	s.log.Info().Msg("Capture stopped")
	s.unlock()
}

// Close stops the session for good. Later acquisitions fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.teardownLocked()
	if s.state != StateIdle {
		s.setStateLocked(StateStopped)
	}
	s.unlock()
	s.log.Debug().Msg("Capture session closed")
	return nil
}

// Mute keeps the stream but disables its tracks, pauses the encoder and
// stops the feature engine. It is safe without a stream.
func (s *Session) Mute() {
	s.mu.Lock()
	s.muted.Store(true)
	setTracksEnabled(s.stream, false)
	if s.enc != nil {
		s.enc.Pause()
	}
	s.features.Stop()
	s.resetFrameLocked()
	if s.state == StateActive {
		s.setStateLocked(StateMuted)
	}
	s.unlock()
}

// Unmute re-enables the tracks and resumes the encoder and the feature
// engine on the same stream.
func (s *Session) Unmute() {
	s.mu.Lock()
	s.muted.Store(false)
	setTracksEnabled(s.stream, true)
	if s.enc != nil {
		s.enc.Resume()
		s.features.Start()
	}
	if s.state == StateMuted {
		s.setStateLocked(StateActive)
	}
	s.unlock()
}

// ChangeDevice switches capture to id when it is in the device list, and
// does nothing otherwise. The old stream is fully released before the new
// one is requested.
func (s *Session) ChangeDevice(ctx context.Context, id string) error {
	if s.devices == nil || !containsDevice(s.devices.Devices(), id) {
		s.log.Debug().Str("device", id).Msg("Ignoring change to unknown device")
		return nil
	}
	s.devices.Select(id)

	s.Stop()
	perm, gen, err := s.acquire(ctx, id)
	switch {
	case errors.Is(err, ErrStaleAcquisition):
		return nil
	case err != nil:
		return err
	case perm != PermissionGranted:
		return nil
	}

	if err := s.startGen(gen); err != nil && !errors.Is(err, ErrStaleAcquisition) {
		return err
	}
	return nil
}

func containsDevice(devices []audio.Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// teardownLocked runs the release steps in order. Each step is isolated.
// The encoder's final chunk is queued and delivered by unlock.
func (s *Session) teardownLocked() {
	s.running.Store(false)
	s.step("stop feature engine", func() error {
		s.features.Stop()
		return nil
	})
	s.step("suspend feature engine", func() error {
		s.features.Suspend()
		return nil
	})
	s.step("detach feature engine", func() error {
		s.features.Bind(nil)
		return nil
	})

	if enc := s.enc; enc != nil {
		s.enc = nil
		muted := s.muted.Load()
		var (
			finalMu sync.Mutex
			final   [][]byte
		)
		s.step("stop encoder", func() error {
			enc.OnData(func(data []byte) {
				finalMu.Lock()
				final = append(final, data)
				finalMu.Unlock()
			})
			return enc.Stop()
		})
		s.step("detach encoder", func() error {
			enc.OnData(nil)
			return nil
		})
		if !muted {
			finalMu.Lock()
			s.pendingChunks = append(s.pendingChunks, final...)
			finalMu.Unlock()
		}
	}

	if stream := s.stream; stream != nil {
		s.viewMu.Lock()
		s.stream = nil
		s.viewMu.Unlock()
		s.step("stop tracks", func() error {
			return audio.StopTracks(stream)
		})
	}

	s.muted.Store(false)
	s.resetFrameLocked()
}

func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.failStepLocked(fmt.Errorf("%s: panic: %v", name, r))
		}
	}()
	if err := fn(); err != nil {
		s.failStepLocked(fmt.Errorf("%s: %w", name, err))
	}
}

func (s *Session) failStepLocked(err error) {
	s.log.Error().Err(err).Msg("Teardown step failed")
	s.pendingErrs = append(s.pendingErrs, err)
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.log.Debug().Stringer("from", s.state).Stringer("to", state).Msg("State change")
	s.viewMu.Lock()
	s.state = state
	s.viewMu.Unlock()
	s.pendingStates = append(s.pendingStates, state)
}

func (s *Session) resetFrameLocked() {
	s.frameMu.Lock()
	s.frame = feature.Baseline()
	s.frameMu.Unlock()
	s.pendingFrame = true
}

// unlock releases s.mu and then runs the callbacks queued while it was
// held.
func (s *Session) unlock() {
	states := s.pendingStates
	errs := s.pendingErrs
	chunks := s.pendingChunks
	frame := s.pendingFrame
	s.pendingStates = nil
	s.pendingErrs = nil
	s.pendingChunks = nil
	s.pendingFrame = false
	s.mu.Unlock()

	for _, err := range errs {
		s.report(err)
	}
	if s.onChunk != nil {
		for _, data := range chunks {
			if len(data) > 0 {
				s.onChunk(data)
			}
		}
	}
	if frame && s.onFrame != nil {
		s.onFrame(feature.Baseline())
	}
	if s.onState != nil {
		for _, st := range states {
			s.onState(st)
		}
	}
}

func (s *Session) report(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) handleChunk(data []byte) {
	if len(data) == 0 || s.muted.Load() {
		return
	}
	if s.onChunk != nil {
		s.onChunk(data)
	}
}

// handleFrame checks the flags under frameMu, so a frame racing Mute or
// Stop cannot land after their baseline reset.
func (s *Session) handleFrame(frame feature.Frame) {
	s.frameMu.Lock()
	if !s.running.Load() || s.muted.Load() {
		s.frameMu.Unlock()
		return
	}
	s.frame = frame
	s.frameMu.Unlock()
	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

func setTracksEnabled(stream audio.Stream, enabled bool) {
	if stream == nil {
		return
	}
	for _, t := range stream.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Format() encoder.Format { return s.format }

func (s *Session) Muted() bool { return s.muted.Load() }

func (s *Session) State() State {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.state
}

func (s *Session) Permission() PermissionState {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.permission
}

// Failure returns the error of the last failed acquisition, nil after a
// successful one.
func (s *Session) Failure() error {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.failure
}

// Stream returns the adopted stream, nil when none is held.
func (s *Session) Stream() audio.Stream {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.stream
}

// Frame returns a copy of the latest loudness frame.
func (s *Session) Frame() feature.Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame.Clone()
}
