package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	"github.com/petems/micstream/internal/config"
	"github.com/rs/zerolog"
)

// ErrDeviceNotFound is returned when a pinned device is not present.
var ErrDeviceNotFound = errors.New("audio device not found")

// PortAudio is the default capture platform
type PortAudio struct {
	cfg config.AudioConfig
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPortAudio initializes PortAudio for capture
func NewPortAudio(cfg config.AudioConfig, log zerolog.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	log.Debug().Str("version", portaudio.VersionText()).Msg("PortAudio initialized")
	return &PortAudio{cfg: cfg, log: log.With().Str("backend", "portaudio").Logger()}, nil
}

// Devices lists input and output devices. When the host reports a default
// input it is listed first under DefaultDeviceID.
func (p *PortAudio) Devices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices)+1)
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		result = append(result, Device{
			ID:    DefaultDeviceID,
			Label: "Default - " + def.Name,
			Kind:  KindInput,
		})
	}

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{ID: d.Name, Label: d.Name, Kind: KindInput})
		}
		if d.MaxOutputChannels > 0 {
			result = append(result, Device{ID: d.Name, Label: d.Name, Kind: KindOutput})
		}
	}

	return result, nil
}

// Open starts a capture stream on the requested device. PortAudio has no
// voice processing, so the processing constraints are only logged.
func (p *PortAudio) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.New("PortAudio platform closed")
	}

	device, err := p.findInput(c.DeviceID)
	if err != nil {
		return nil, err
	}

	channels := p.cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}

	p.log.Debug().
		Str("device", device.Name).
		Int("channels", channels).
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Msg("Opening stream; processing constraints are not supported by this backend")

	s := &hwStream{
		id:         uuid.NewString(),
		sampleRate: p.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.cfg.SampleRate),
		FramesPerBuffer: p.cfg.FramesPerBuffer,
	}, func(in []float32) {
		s.deliver(downmixInterleaved(in, channels, len(in)/channels))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	s.track = newTrack(s.id+"/audio", func() error {
		stopErr := stream.Stop()
		closeErr := stream.Close()
		return errors.Join(stopErr, closeErr)
	})

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	return s, nil
}

func (p *PortAudio) findInput(id string) (*portaudio.DeviceInfo, error) {
	if id == "" || id == DefaultDeviceID {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Close terminates PortAudio. Streams must be stopped first.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}
