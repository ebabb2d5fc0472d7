package capture

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	// StateAcquiring lasts from the acquisition request until the encoder
	// starts.
	StateAcquiring
	StateActive
	StateMuted
	StateStopped
	// StateFailed is reported when an acquisition fails and is immediately
	// followed by StateStopped.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateMuted:
		return "muted"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PermissionState tracks what the last acquisition taught us about
// microphone access. It never reverts to PermissionPrompt.
type PermissionState int

const (
	PermissionPrompt PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionPrompt:
		return "prompt"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}
