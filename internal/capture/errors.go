package capture

import "errors"

var (
	// ErrPermissionDenied wraps every platform-level acquisition failure:
	// OS permission refusal, a rejected request or an unavailable device.
	ErrPermissionDenied = errors.New("microphone permission denied")

	ErrNoAudioTracks       = errors.New("stream has no audio tracks")
	ErrMultipleAudioTracks = errors.New("stream has more than one audio track")

	ErrNoStreamConnected = errors.New("no stream connected")
	ErrNoEncodingFormat  = errors.New("no encoding format")

	// ErrStaleAcquisition is returned when a Stop, Close or newer Acquire
	// superseded an acquisition while it was pending. The stream it
	// produced has already been released.
	ErrStaleAcquisition = errors.New("acquisition superseded")

	ErrSessionClosed = errors.New("capture session closed")
)
