//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

// Microphone returns the current microphone permission status
func Microphone() Status {
	switch int(C.checkMicrophonePermission()) {
	case 1:
		return Restricted
	case 2:
		return Denied
	case 3:
		return Authorized
	default:
		return NotDetermined
	}
}

// RequestMicrophone triggers the system microphone permission dialog.
// The answer arrives asynchronously; the next acquisition observes it.
func RequestMicrophone() {
	C.requestMicrophonePermission()
}
