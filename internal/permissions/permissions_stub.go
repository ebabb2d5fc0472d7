//go:build !darwin

package permissions

// Microphone reports Authorized on platforms without an OS-level gate;
// the capture backend itself rejects inaccessible devices.
func Microphone() Status {
	return Authorized
}

// RequestMicrophone is a no-op on non-macOS platforms.
func RequestMicrophone() {}
