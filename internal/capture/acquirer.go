// Package capture owns the microphone capture lifecycle: acquiring a
// stream, feeding it to the chunk encoder and the feature engine, muting,
// switching devices and tearing everything down again.
package capture

import (
	"context"
	"fmt"

	"github.com/petems/micstream/internal/audio"
	"github.com/petems/micstream/internal/permissions"
	"github.com/rs/zerolog"
)

type AcquirerConfig struct {
	Opener audio.Opener
	Logger zerolog.Logger

	// Permission and RequestPermission default to the OS microphone gate.
	Permission        func() permissions.Status
	RequestPermission func()
}

// Acquirer opens microphone streams with voice processing constraints and
// checks that they carry exactly one audio track.
type Acquirer struct {
	opener     audio.Opener
	log        zerolog.Logger
	permission func() permissions.Status
	request    func()
}

func NewAcquirer(cfg AcquirerConfig) *Acquirer {
	a := &Acquirer{
		opener:     cfg.Opener,
		log:        cfg.Logger,
		permission: cfg.Permission,
		request:    cfg.RequestPermission,
	}
	if a.permission == nil {
		a.permission = permissions.Microphone
	}
	if a.request == nil {
		a.request = permissions.RequestMicrophone
	}
	return a
}

// Acquire opens a stream on deviceID, or on the platform's choice when
// deviceID is empty. It does not retry.
func (a *Acquirer) Acquire(ctx context.Context, deviceID string) (audio.Stream, error) {
	status := a.permission()
	if status.Refused() {
		return nil, fmt.Errorf("%w: os reports %s", ErrPermissionDenied, status)
	}
	if status == permissions.NotDetermined {
		a.log.Info().Msg("Requesting microphone permission")
		a.request()
	}

	c := audio.Constraints{
		DeviceID:         deviceID,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
	stream, err := a.opener.Open(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquisition cancelled: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	switch n := len(stream.AudioTracks()); {
	case n == 1:
		a.log.Debug().Str("stream", stream.ID()).Str("device", deviceID).Msg("Stream acquired")
		return stream, nil
	case n == 0:
		err = ErrNoAudioTracks
	default:
		err = fmt.Errorf("%w: got %d", ErrMultipleAudioTracks, n)
	}

	if stopErr := audio.StopTracks(stream); stopErr != nil {
		a.log.Warn().Err(stopErr).Msg("Failed to release unusable stream")
	}
	return nil, err
}
