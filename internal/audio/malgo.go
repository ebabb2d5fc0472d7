package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/petems/micstream/internal/config"
	"github.com/rs/zerolog"
)

// Malgo is a miniaudio capture platform. Unlike PortAudio it re-enumerates
// hardware on every Devices call, so hotplugged microphones show up.
type Malgo struct {
	cfg config.AudioConfig
	log zerolog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgo initializes a miniaudio context with the platform default backends
func NewMalgo(cfg config.AudioConfig, log zerolog.Logger) (*Malgo, error) {
	log = log.With().Str("backend", "malgo").Logger()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("miniaudio", message).Msg("Backend message")
	})
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	return &Malgo{cfg: cfg, log: log, ctx: ctx}, nil
}

func (m *Malgo) context() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, errors.New("malgo platform closed")
	}
	return m.ctx, nil
}

// Devices lists capture and playback devices, the default capture device
// first under DefaultDeviceID.
func (m *Malgo) Devices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := m.context()
	if err != nil {
		return nil, err
	}

	capture, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	playback, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to list playback devices: %w", err)
	}

	result := make([]Device, 0, len(capture)+len(playback)+1)
	for i := range capture {
		if capture[i].IsDefault != 0 {
			result = append(result, Device{
				ID:    DefaultDeviceID,
				Label: "Default - " + capture[i].Name(),
				Kind:  KindInput,
			})
			break
		}
	}
	for i := range capture {
		result = append(result, Device{ID: capture[i].ID.String(), Label: capture[i].Name(), Kind: KindInput})
	}
	for i := range playback {
		result = append(result, Device{ID: playback[i].ID.String(), Label: playback[i].Name(), Kind: KindOutput})
	}
	return result, nil
}

// Open starts an f32 capture device. miniaudio has no voice processing
// either, the constraints are logged.
func (m *Malgo) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := m.context()
	if err != nil {
		return nil, err
	}

	channels := m.cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.FramesPerBuffer)

	if c.DeviceID != "" && c.DeviceID != DefaultDeviceID {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to list capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].ID.String() == c.DeviceID {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.DeviceID)
		}
	}

	m.log.Debug().
		Str("device", c.DeviceID).
		Int("channels", channels).
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Msg("Opening stream; processing constraints are not supported by this backend")

	s := &hwStream{
		id:         uuid.NewString(),
		sampleRate: m.cfg.SampleRate,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			s.deliver(downmixInterleaved(decodeF32(input), channels, int(frameCount)))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	s.track = newTrack(s.id+"/audio", func() error {
		err := device.Stop()
		device.Uninit()
		return err
	})

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	return s, nil
}

// Close releases the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

func decodeF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
